// Package mail delivers invite notifications. The default sender only
// records the dispatch in the server log; a real transport can be swapped
// in behind the same interface.
package mail

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogSender writes invite notifications to the application log instead of
// sending real mail. Useful for development and for deployments where
// invite links are distributed out of band.
type LogSender struct{}

// NewLogSender returns a log-only invite sender.
func NewLogSender() *LogSender {
	return &LogSender{}
}

// SendInvite records the invite dispatch. The token is not logged.
func (s *LogSender) SendInvite(ctx context.Context, email, organizationName, token string) error {
	log.WithFields(log.Fields{
		"email":        email,
		"organization": organizationName,
	}).Info("mail: invite dispatched")
	return nil
}
