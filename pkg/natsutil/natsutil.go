// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// ErrorHeader carries a responder-side failure back to the requester.
const ErrorHeader = "X-Error"

// RemoteError is returned by Request when the responder reported a failure.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("natsutil: %s: %s", e.Subject, e.Message)
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are silently dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}

// Serve answers requests on subject with handler. Members of the same queue
// group share the load; an empty queue subscribes every instance. Decode and
// handler failures are sent back in the X-Error header with an empty body.
func Serve[Req, Resp any](nc *nats.Conn, subject, queue string, log *zap.Logger, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respondError(msg, log, fmt.Errorf("decode request: %w", err))
			return
		}
		resp, err := handler(ctx, req)
		if err != nil {
			respondError(msg, log, err)
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			respondError(msg, log, fmt.Errorf("encode response: %w", err))
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Warn("nats respond failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
}

func respondError(msg *nats.Msg, log *zap.Logger, err error) {
	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(ErrorHeader, err.Error())
	if rerr := msg.RespondMsg(reply); rerr != nil {
		log.Warn("nats respond failed", zap.String("subject", msg.Subject), zap.Error(rerr))
	}
}

// Request sends a JSON-encoded request and decodes the response. The call is
// bounded by ctx, or by nats.DefaultTimeout when ctx has no deadline.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return zero, fmt.Errorf("natsutil: no responders on %s: %w", subject, err)
		}
		return zero, err
	}
	if m := resp.Header.Get(ErrorHeader); m != "" {
		return zero, &RemoteError{Subject: subject, Message: m}
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, fmt.Errorf("natsutil: decode %s reply: %w", subject, err)
	}
	return result, nil
}
