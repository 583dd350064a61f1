package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

func GenRandomToken() string {
	rdata := make([]byte, 64)
	rand.Read(rdata)
	hash := sha256.Sum256(rdata)
	return hex.EncodeToString(hash[:])
}

// HashIP reduces a remote address to a salted hash. Raw addresses are
// never persisted; the hash is enough to correlate repeat hits.
func HashIP(salt string, remote_addr string) string {
	if remote_addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remote_addr); err == nil {
		remote_addr = host
	}
	sum := sha256.Sum256([]byte(salt + "|" + remote_addr))
	return hex.EncodeToString(sum[:16])
}

// GetRealIP pulls the client address out of proxy headers, falling back
// to the socket address.
func GetRealIP(req *http.Request) string {
	if ip := req.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return req.RemoteAddr
}
