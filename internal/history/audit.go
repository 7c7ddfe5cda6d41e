package history

import (
	"fmt"
	"log/syslog"
	"strconv"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"
)

// SyslogIdentifier tags audit records in the journal and syslog.
const SyslogIdentifier = "atomic-image-manager"

// AuditSink mirrors history entries to a system log.
type AuditSink interface {
	Record(Entry) error
}

// AuditFunc adapts a function to AuditSink.
type AuditFunc func(Entry) error

// Record implements AuditSink.
func (f AuditFunc) Record(e Entry) error { return f(e) }

// JournalSink writes structured records to the systemd journal.
type JournalSink struct{}

// Record implements AuditSink.
func (JournalSink) Record(e Entry) error {
	pri := journal.PriInfo
	if !e.Success {
		pri = journal.PriWarning
	}
	return journal.Send(
		fmt.Sprintf("%s: %s command executed", SyslogIdentifier, e.OperationType),
		pri,
		journalFields(e),
	)
}

func journalFields(e Entry) map[string]string {
	session := "unknown"
	if e.SessionID != nil {
		session = *e.SessionID
	}
	errMsg := ""
	if e.ErrorMessage != nil {
		errMsg = *e.ErrorMessage
	}
	return map[string]string{
		"COMMAND":           e.Command,
		"OPERATION_TYPE":    string(e.OperationType),
		"SUCCESS":           strconv.FormatBool(e.Success),
		"IMAGE_NAME":        e.ImageName,
		"USER_ID":           e.User(),
		"SESSION_ID":        session,
		"ERROR_MESSAGE":     errMsg,
		"SYSLOG_IDENTIFIER": SyslogIdentifier,
	}
}

// SyslogSink writes one-line records to the local syslog daemon. The
// connection is opened on first use.
type SyslogSink struct {
	mu sync.Mutex
	w  *syslog.Writer
}

// Record implements AuditSink.
func (s *SyslogSink) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, SyslogIdentifier)
		if err != nil {
			return err
		}
		s.w = w
	}
	msg := syslogMessage(e)
	if e.Success {
		return s.w.Info(msg)
	}
	return s.w.Warning(msg)
}

func syslogMessage(e Entry) string {
	outcome := "succeeded"
	if !e.Success {
		outcome = "failed"
	}
	session := "unknown"
	if e.SessionID != nil {
		session = *e.SessionID
	}
	msg := fmt.Sprintf("%s: %s %s - user=%s session=%s image=%s command=%s",
		SyslogIdentifier, e.OperationType, outcome, e.User(), session, e.ImageName, e.Command)
	if e.ErrorMessage != nil && *e.ErrorMessage != "" {
		msg += " error=" + *e.ErrorMessage
	}
	return msg
}

// SystemAuditSink returns the journal sink when the journal socket is
// reachable and the syslog sink otherwise.
func SystemAuditSink() AuditSink {
	if journal.Enabled() {
		return JournalSink{}
	}
	return &SyslogSink{}
}
