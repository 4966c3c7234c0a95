package cnwcommercial

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// SaaSService is the facade for hosted subscriptions.
type SaaSService struct {
	client *Client
}

// NewSaaSService resolves the SaaS endpoint from reg and returns a facade for it.
func NewSaaSService(reg *Registry, opts ...ClientOption) *SaaSService {
	return &SaaSService{client: NewClient(reg, ServerSaaS, opts...)}
}

// ListPlans returns the available plans, or an empty slice on failure.
func (s *SaaSService) ListPlans(ctx context.Context) []Plan {
	var plans []Plan
	if err := s.client.doJSON(ctx, http.MethodGet, "plans", nil, nil, &plans); err != nil {
		s.client.logger.Error("saas list plans failed", zap.Error(err))
		return []Plan{}
	}
	if plans == nil {
		return []Plan{}
	}
	return plans
}

// Subscribe starts a subscription. Failures are reported in the result.
func (s *SaaSService) Subscribe(ctx context.Context, req SubscribeRequest) SubscribeResult {
	var res SubscribeResult
	if err := s.client.doJSON(ctx, http.MethodPost, "subscribe", nil, req, &res); err != nil {
		s.client.logger.Error("saas subscribe failed", zap.String("plan_id", req.PlanID), zap.Error(err))
		return SubscribeResult{Result: Result{Success: false, Error: failureMessage(err)}}
	}
	res.Success = true
	return res
}

// GetSubscription returns a subscription, or nil if it cannot be fetched.
func (s *SaaSService) GetSubscription(ctx context.Context, id string) *Subscription {
	var sub Subscription
	if err := s.client.doJSON(ctx, http.MethodGet, "subscriptions/"+url.PathEscape(id), nil, nil, &sub); err != nil {
		s.client.logger.Error("saas get subscription failed", zap.String("subscription_id", id), zap.Error(err))
		return nil
	}
	return &sub
}

// Cancel ends a subscription. Failures are reported in the result.
func (s *SaaSService) Cancel(ctx context.Context, id string) Result {
	if err := s.client.doJSON(ctx, http.MethodDelete, "subscriptions/"+url.PathEscape(id), nil, nil, nil); err != nil {
		s.client.logger.Error("saas cancel failed", zap.String("subscription_id", id), zap.Error(err))
		return Result{Success: false, Error: failureMessage(err)}
	}
	return Result{Success: true}
}
