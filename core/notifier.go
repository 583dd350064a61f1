package core

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spearlab/phishtrack/log"
)

const NotifierTimeout = 10 * time.Second

// TrainingNotifier forwards training actions to the external
// training-delivery collaborator over a webhook. Delivery is
// fire-and-forget: the engine never blocks on it and failures only cost
// a log line, never a lost ledger entry.
type TrainingNotifier struct {
	cfg    *Config
	client *resty.Client
}

func NewTrainingNotifier(cfg *Config) *TrainingNotifier {
	client := resty.New().
		SetTimeout(NotifierTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second)

	return &TrainingNotifier{
		cfg:    cfg,
		client: client,
	}
}

func (tn *TrainingNotifier) Dispatch(action *TrainingAction) {
	webhook_url := tn.cfg.GetTrainingWebhookURL()
	if webhook_url == "" {
		log.Info("training: %s '%s' for target %d (no webhook configured)", action.Severity, action.ContentKey, action.TargetId)
		return
	}

	go func() {
		resp, err := tn.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(action).
			Post(webhook_url)
		if err != nil {
			log.Warning("training: webhook delivery failed for target %d: %v", action.TargetId, err)
			return
		}
		if resp.IsError() {
			log.Warning("training: webhook answered %d for target %d", resp.StatusCode(), action.TargetId)
			return
		}
		log.Debug("training: dispatched '%s' (%s) for target %d", action.ContentKey, action.Severity, action.TargetId)
	}()
}
