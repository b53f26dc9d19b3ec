package modelstore

import (
	"github.com/rzpsarthak13/modelstore/internal/changefeed"
)

// ChangeEvent describes one committed write. Key is the identifier of the
// written record and zero for bulk updates; Data holds the stored values
// that changed.
type ChangeEvent = changefeed.ChangeEvent

// Operation is the kind of write a ChangeEvent reports.
type Operation = changefeed.Operation

const (
	OperationInsert     = changefeed.OperationInsert
	OperationUpdate     = changefeed.OperationUpdate
	OperationDelete     = changefeed.OperationDelete
	OperationBulkUpdate = changefeed.OperationBulkUpdate
)

// Handler consumes change events. A handler error is logged and the event
// is dropped.
type Handler = changefeed.Handler

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc = changefeed.HandlerFunc
