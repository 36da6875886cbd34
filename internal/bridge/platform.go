package bridge

import (
	"context"
	"encoding/base64"

	"github.com/crystaldolphin/swbridge/internal/schema"
)

type remoteWorker struct {
	c         *Client
	id        string
	scriptURL string
}

func (w *remoteWorker) ID() string        { return w.id }
func (w *remoteWorker) ScriptURL() string { return w.scriptURL }

func (w *remoteWorker) PostMessage(data []byte) error {
	return w.c.write(Frame{Type: framePost, Worker: w.id, Data: data})
}

type remoteRegistration struct {
	c     *Client
	scope string
}

func (r *remoteRegistration) Scope() string { return r.scope }

func (r *remoteRegistration) PushManager() schema.PushManager {
	return &remotePushManager{c: r.c, scope: r.scope}
}

type remotePushManager struct {
	c     *Client
	scope string
}

func (p *remotePushManager) GetSubscription(ctx context.Context) (schema.PushSubscription, error) {
	var res *schema.PushSubscriptionJSON
	if err := p.c.request(ctx, MethodGetSubscription, scopeParams{Scope: p.scope}, &res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return &remoteSubscription{c: p.c, scope: p.scope, data: *res}, nil
}

func (p *remotePushManager) Subscribe(ctx context.Context, opts schema.PushSubscriptionOptions) (schema.PushSubscription, error) {
	params := subscribeParams{
		Scope:           p.scope,
		UserVisibleOnly: opts.UserVisibleOnly,
	}
	if len(opts.ApplicationServerKey) > 0 {
		params.ApplicationServerKey = base64.RawURLEncoding.EncodeToString(opts.ApplicationServerKey)
	}
	var res schema.PushSubscriptionJSON
	if err := p.c.request(ctx, MethodSubscribe, params, &res); err != nil {
		return nil, err
	}
	return &remoteSubscription{c: p.c, scope: p.scope, data: res}, nil
}

type remoteSubscription struct {
	c     *Client
	scope string
	data  schema.PushSubscriptionJSON
}

func (s *remoteSubscription) Endpoint() string                  { return s.data.Endpoint }
func (s *remoteSubscription) JSON() schema.PushSubscriptionJSON { return s.data }

func (s *remoteSubscription) Unsubscribe(ctx context.Context) (bool, error) {
	var ok bool
	params := unsubscribeParams{Scope: s.scope, Endpoint: s.data.Endpoint}
	if err := s.c.request(ctx, MethodUnsubscribe, params, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
