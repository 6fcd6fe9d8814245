package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paymebridge/observability"
	"paymebridge/payme"
)

// Machine is the transaction state machine the dispatcher drives.
type Machine interface {
	CheckPerformTransaction(ctx context.Context, req payme.CheckPerformRequest) (*payme.CheckPerformResult, error)
	CreateTransaction(ctx context.Context, req payme.CreateRequest) (*payme.CreateResult, []payme.Event, error)
	PerformTransaction(ctx context.Context, req payme.PerformRequest) (*payme.PerformResult, []payme.Event, error)
	CancelTransaction(ctx context.Context, req payme.CancelRequest) (*payme.CancelResult, []payme.Event, error)
	CheckTransaction(ctx context.Context, req payme.CheckRequest) (*payme.Snapshot, error)
	GetStatement(ctx context.Context, req payme.StatementRequest) (*payme.StatementResult, error)
}

// EventSink accepts lifecycle events for asynchronous delivery.
type EventSink interface {
	Enqueue(topic string, payload map[string]interface{}) error
}

// Dispatcher routes authenticated requests to the state machine and forwards
// the resulting events once the machine call has returned.
type Dispatcher struct {
	machine Machine
	sink    EventSink
	topic   string
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewDispatcher(machine Machine, sink EventSink, topic string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		machine: machine,
		sink:    sink,
		topic:   topic,
		logger:  logger,
		tracer:  otel.Tracer("paymebridge/rpc"),
	}
}

// Dispatch executes req and always produces a response envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (resp *Response) {
	start := time.Now()
	method := req.Method
	ctx, span := d.tracer.Start(ctx, "payme."+methodLabel(method), trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("rpc: handler panic", "method", method, "panic", r)
			resp = newFailure(req.ID, payme.SystemError())
		}
		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
			span.SetStatus(codes.Error, resp.Error.Message)
			span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", code))
		}
		observability.RPCMetrics().Observe(methodLabel(method), code, time.Since(start))
	}()

	if method == "" {
		return newFailure(req.ID, payme.NewError(payme.KindInvalidRequest, "Invalid request (no method)"))
	}
	p, perr := decodeParams(req.Params)
	if perr != nil {
		return newFailure(req.ID, perr)
	}

	result, events, err := d.call(ctx, method, p)
	if err != nil {
		return newFailure(req.ID, d.businessError(method, err))
	}
	d.publish(events)
	return newResult(req.ID, result)
}

func (d *Dispatcher) call(ctx context.Context, method string, p params) (interface{}, []payme.Event, error) {
	switch method {
	case MethodCheckPerformTransaction:
		in, perr := p.checkPerform()
		if perr != nil {
			return nil, nil, perr
		}
		out, err := d.machine.CheckPerformTransaction(ctx, in)
		return out, nil, err
	case MethodCreateTransaction:
		in, perr := p.create()
		if perr != nil {
			return nil, nil, perr
		}
		return unpack(d.machine.CreateTransaction(ctx, in))
	case MethodPerformTransaction:
		in, perr := p.perform()
		if perr != nil {
			return nil, nil, perr
		}
		return unpack(d.machine.PerformTransaction(ctx, in))
	case MethodCancelTransaction:
		in, perr := p.cancel()
		if perr != nil {
			return nil, nil, perr
		}
		return unpack(d.machine.CancelTransaction(ctx, in))
	case MethodCheckTransaction:
		in, perr := p.check()
		if perr != nil {
			return nil, nil, perr
		}
		out, err := d.machine.CheckTransaction(ctx, in)
		return out, nil, err
	case MethodGetStatement:
		in, perr := p.statement()
		if perr != nil {
			return nil, nil, perr
		}
		out, err := d.machine.GetStatement(ctx, in)
		return out, nil, err
	default:
		return nil, nil, payme.NewError(payme.KindMethodNotFound, "Method not found: %s", method)
	}
}

// unpack erases the concrete result type so each case can return directly.
// A typed nil pointer must not leak into the interface.
func unpack[T any](out *T, events []payme.Event, err error) (interface{}, []payme.Event, error) {
	if err != nil || out == nil {
		return nil, events, err
	}
	return out, events, nil
}

func (d *Dispatcher) businessError(method string, err error) *payme.Error {
	var perr *payme.Error
	if errors.As(err, &perr) && perr != nil {
		return perr
	}
	d.logger.Error("rpc: internal failure", "method", method, "error", err)
	return payme.SystemError()
}

func (d *Dispatcher) publish(events []payme.Event) {
	if d.sink == nil {
		return
	}
	for _, event := range events {
		if err := d.sink.Enqueue(d.topic, event.Payload()); err != nil {
			d.logger.Warn("rpc: event not queued", "transaction", event.TransactionID,
				"status", string(event.Kind), "error", err)
		}
	}
}

// methodLabel bounds metric cardinality to the known provider methods.
func methodLabel(method string) string {
	switch method {
	case MethodCheckPerformTransaction, MethodCreateTransaction, MethodPerformTransaction,
		MethodCancelTransaction, MethodCheckTransaction, MethodGetStatement:
		return method
	case "":
		return "none"
	default:
		return "unknown"
	}
}
