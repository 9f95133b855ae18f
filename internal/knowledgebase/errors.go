package knowledgebase

import (
	"errors"
	"fmt"
	"strings"
)

// Op names the remote operation that failed
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpSync   Op = "sync"
	OpList   Op = "list"
)

// Operation-specific failures. All of them are recoverable: the caller rolls
// back pending statuses and reports the message.
var (
	ErrRemoteCreate = errors.New("remote create failed")
	ErrRemoteUpdate = errors.New("remote update failed")
	ErrRemoteDelete = errors.New("remote delete failed")
	ErrRemoteSync   = errors.New("remote sync failed")
	ErrRemoteList   = errors.New("remote list failed")
)

var sentinels = map[Op]error{
	OpCreate: ErrRemoteCreate,
	OpUpdate: ErrRemoteUpdate,
	OpDelete: ErrRemoteDelete,
	OpSync:   ErrRemoteSync,
	OpList:   ErrRemoteList,
}

// RemoteError carries the attempted operation and the resource it targeted.
// It matches the sentinel for Op and still unwraps to the transport cause.
type RemoteError struct {
	Op              Op
	KnowledgeBaseID string
	ResourceID      string
	Path            string
	Err             error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.sentinel().Error())
	var attrs []string
	if e.KnowledgeBaseID != "" {
		attrs = append(attrs, "knowledge_base="+e.KnowledgeBaseID)
	}
	if e.ResourceID != "" {
		attrs = append(attrs, "resource="+e.ResourceID)
	}
	if e.Path != "" {
		attrs = append(attrs, "path="+e.Path)
	}
	if len(attrs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(attrs, " "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *RemoteError) sentinel() error {
	if s, ok := sentinels[e.Op]; ok {
		return s
	}
	return fmt.Errorf("remote %s failed", e.Op)
}

// Kind returns the failed operation of err, or "" if err is not a RemoteError
func Kind(err error) Op {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Op
	}
	return ""
}
