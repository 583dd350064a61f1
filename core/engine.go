package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/spearlab/phishtrack/database"
	"github.com/spearlab/phishtrack/log"
)

var (
	ErrUnknownCampaign = errors.New("unknown campaign")
	ErrUnknownTarget   = errors.New("unknown target")
	ErrLedgerWrite     = errors.New("ledger write failed")
)

const LEDGER_WRITE_RETRIES = 4

// Dispatcher consumes training actions. The engine emits the decision and
// returns; delivery happens on the dispatcher's side of the boundary.
type Dispatcher interface {
	Dispatch(action *TrainingAction)
}

// EventMeta is advisory request metadata attached to ledger entries.
type EventMeta struct {
	RemoteAddr string
	UserAgent  string
}

// TrackResult describes everything one inbound tracking hit did.
type TrackResult struct {
	Event            *database.Event
	Campaign         *database.Campaign
	Target           *database.Target
	PrevState        InteractionState
	NewState         InteractionState
	CausedTransition bool
	Duplicate        bool
	AuditOnly        bool
	Action           *TrainingAction
}

// TrackEngine maps decoded tokens onto campaign/target records, appends
// to the event ledger, advances the interaction state machine and fires
// the dispatch policy. Processing is serialized per target through a lock
// registry; distinct targets never block each other.
type TrackEngine struct {
	db         *database.Database
	policy     *DispatchPolicy
	dispatcher Dispatcher
	events     *EventLogger
	ipSalt     string

	mtx   sync.Mutex
	locks map[int]*sync.Mutex
}

func NewTrackEngine(db *database.Database, policy *DispatchPolicy, dispatcher Dispatcher, events *EventLogger, ipSalt string) *TrackEngine {
	return &TrackEngine{
		db:         db,
		policy:     policy,
		dispatcher: dispatcher,
		events:     events,
		ipSalt:     ipSalt,
		locks:      make(map[int]*sync.Mutex),
	}
}

func (e *TrackEngine) targetLock(target_id int) *sync.Mutex {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	l, ok := e.locks[target_id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[target_id] = l
	}
	return l
}

// HandleEvent processes one decoded tracking hit. The returned error is
// ErrUnknownCampaign/ErrUnknownTarget only for dangling tokens, records
// that verifiably do not exist. A failing store, on lookup or on the
// durable write after retries, surfaces as wrapped ErrLedgerWrite; the
// caller must answer with a server error instead of acknowledging.
func (e *TrackEngine) HandleEvent(pt *TokenPayload, meta EventMeta) (*TrackResult, error) {
	campaign, err := e.db.GetCampaign(pt.CampaignId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: campaign %d", ErrUnknownCampaign, pt.CampaignId)
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	lock := e.targetLock(pt.TargetId)
	lock.Lock()
	defer lock.Unlock()

	target, err := e.db.GetTarget(pt.TargetId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: target %d", ErrUnknownTarget, pt.TargetId)
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if target.CampaignId != pt.CampaignId {
		return nil, fmt.Errorf("%w: target %d in campaign %d", ErrUnknownTarget, pt.TargetId, pt.CampaignId)
	}

	res := &TrackResult{Campaign: campaign, Target: target}
	res.AuditOnly = campaign.Status != database.CampaignStatusActive

	prev, err := ParseState(target.State)
	if err != nil {
		return nil, err
	}
	res.PrevState = prev
	res.NewState = prev

	ev, err := e.recordEvent(pt, meta, res.AuditOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	res.Event = ev
	res.Duplicate = !res.AuditOnly && !ev.Causing

	if res.AuditOnly {
		e.logResult(res)
		return res, nil
	}

	if pt.Purpose == PurposeReport {
		if err := e.handleReport(res); err != nil {
			return nil, err
		}
	} else {
		if err := e.handleProgress(pt.Purpose, res); err != nil {
			return nil, err
		}
	}

	if res.Action != nil && e.dispatcher != nil {
		e.dispatcher.Dispatch(res.Action)
	}
	e.logResult(res)
	return res, nil
}

// recordEvent is the one blocking, durable write on the hot path. It is
// retried with bounded backoff; exhaustion propagates so the gateway can
// answer 5xx instead of faking an acknowledgment.
func (e *TrackEngine) recordEvent(pt *TokenPayload, meta EventMeta, audit bool) (*database.Event, error) {
	nonce := uuid.NewString()
	ip_hash := HashIP(e.ipSalt, meta.RemoteAddr)

	var ev *database.Event
	op := func() error {
		var err error
		ev, err = e.db.RecordEvent(nonce, pt.CampaignId, pt.TargetId, string(pt.Purpose), ip_hash, meta.UserAgent, audit)
		return err
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), LEDGER_WRITE_RETRIES))
	if err != nil {
		log.Error("ledger: giving up on event for target %d purpose %s: %v", pt.TargetId, pt.Purpose, err)
		return nil, err
	}
	return ev, nil
}

func (e *TrackEngine) handleReport(res *TrackResult) error {
	if !res.Event.Causing {
		return nil
	}

	target, err := e.db.SetTargetReported(res.Target.Id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	res.Target = target

	return e.assign(e.policy.DecideReport(), res)
}

func (e *TrackEngine) handleProgress(purpose Purpose, res *TrackResult) error {
	next := Advance(res.PrevState, purpose)
	if next == res.PrevState {
		return nil
	}
	res.NewState = next
	res.CausedTransition = true

	target, err := e.db.SetTargetState(res.Target.Id, next.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	res.Target = target

	action := e.policy.Decide(res.PrevState, next, target.Reported, res.Campaign.Scenario, e.hasRemedialTraining(target.Id))
	if action == nil {
		return nil
	}
	return e.assign(action, res)
}

// hasRemedialTraining reports whether the target was already dispatched
// remedial content. Report acknowledgments don't count.
func (e *TrackEngine) hasRemedialTraining(target_id int) bool {
	assignments, err := e.db.ListTargetTraining(target_id)
	if err != nil {
		return false
	}
	for _, a := range assignments {
		if a.Severity != SeverityReport {
			return true
		}
	}
	return false
}

func (e *TrackEngine) assign(action *TrainingAction, res *TrackResult) error {
	action.CampaignId = res.Campaign.Id
	action.TargetId = res.Target.Id
	action.Recipient = res.Target.Recipient

	if action.Escalate {
		if _, err := e.db.EscalateTraining(res.Target.Id, action.ContentKey, action.Severity); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
		}
	} else {
		_, err := e.db.CreateTrainingAssignment(res.Campaign.Id, res.Target.Id, action.ContentKey, action.Severity)
		if err == database.ErrAlreadyAssigned {
			// another event already claimed this trigger
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
		}
	}
	res.Action = action
	return nil
}

// MarkDelivered records that the delivery collaborator handed the email
// off. Only a pending target moves; a target that already opened or
// clicked (tracking outran the delivery callback) is left alone.
func (e *TrackEngine) MarkDelivered(target_id int) (*database.Target, error) {
	lock := e.targetLock(target_id)
	lock.Lock()
	defer lock.Unlock()

	target, err := e.db.GetTarget(target_id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: target %d", ErrUnknownTarget, target_id)
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	state, err := ParseState(target.State)
	if err != nil {
		return nil, err
	}
	if state >= StateDelivered {
		return target, nil
	}
	return e.db.SetTargetState(target_id, StateDelivered.String())
}

func (e *TrackEngine) logResult(res *TrackResult) {
	if e.events != nil {
		e.events.LogResult(res)
	}
	switch {
	case res.AuditOnly:
		log.Debug("engine: audit event %s for target %d (campaign %d is %s)", res.Event.Purpose, res.Target.Id, res.Campaign.Id, res.Campaign.Status)
	case res.Duplicate:
		log.Debug("engine: duplicate %s for target %d", res.Event.Purpose, res.Target.Id)
	case res.CausedTransition:
		log.Info("engine: target %d %s -> %s (campaign %d)", res.Target.Id, res.PrevState, res.NewState, res.Campaign.Id)
	}
}
