package accounts

import (
	"sync"

	"sessionfleet/internal/engine"
	"sessionfleet/internal/httpx"
	"sessionfleet/internal/login"
	"sessionfleet/internal/secret"
	"sessionfleet/internal/session"
	"sessionfleet/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AdvanceRequest represents login flow advance request body
type AdvanceRequest struct {
	FlowID string `json:"flowId" binding:"required"`
	Input  string `json:"input"`
}

// FlowResponse represents one step of an interactive login flow
type FlowResponse struct {
	FlowID string                `json:"flowId"`
	State  login.State           `json:"state"`
	Prompt string                `json:"prompt,omitempty"`
	Error  string                `json:"error,omitempty"`
	Result *engine.OnboardResult `json:"result,omitempty"`
}

// flowEntry pairs a flow with its advance lock. A Flow is not safe for
// concurrent use, so only one advance per flow may be in flight.
type flowEntry struct {
	mu   sync.Mutex
	flow *login.Flow
}

// FlowHandler handles the interactive phone/code/password onboarding flows.
// Flows live in memory; a restart abandons them.
type FlowHandler struct {
	engine   *engine.Manager
	factory  *session.Factory
	accounts *store.Accounts
	sealer   *secret.Box
	log      *logrus.Entry

	mu    sync.Mutex
	flows map[string]*flowEntry
}

// NewFlowHandler creates a new login flow handler
func NewFlowHandler(eng *engine.Manager, factory *session.Factory, accounts *store.Accounts, sealer *secret.Box, log *logrus.Entry) *FlowHandler {
	return &FlowHandler{
		engine:   eng,
		factory:  factory,
		accounts: accounts,
		sealer:   sealer,
		log:      log.WithField("component", "login-api"),
		flows:    make(map[string]*flowEntry),
	}
}

// Start handles POST /api/v1/accounts/login-flow/start
func (h *FlowHandler) Start(c *gin.Context) {
	id := uuid.NewString()
	h.mu.Lock()
	h.flows[id] = &flowEntry{flow: login.NewFlow(h.factory, h.log)}
	h.mu.Unlock()

	httpx.OK(c, FlowResponse{
		FlowID: id,
		State:  login.StateLabel,
		Prompt: "choose a label for this account (optional, send empty to skip)",
	})
}

// Advance handles POST /api/v1/accounts/login-flow/advance
func (h *FlowHandler) Advance(c *gin.Context) {
	var req AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	h.mu.Lock()
	entry, ok := h.flows[req.FlowID]
	h.mu.Unlock()
	if !ok {
		httpx.FailErr(c, httpx.ErrNotFound("unknown or finished login flow"))
		return
	}

	if !entry.mu.TryLock() {
		httpx.FailErr(c, httpx.ErrStateConflict("login flow busy, previous step still running"))
		return
	}
	defer entry.mu.Unlock()
	flow := entry.flow

	prompt, err := flow.Advance(c.Request.Context(), req.Input)
	resp := FlowResponse{FlowID: req.FlowID, State: flow.State(), Prompt: prompt}
	if err != nil {
		resp.Error = err.Error()
	}

	switch flow.State() {
	case login.StateDone:
		h.evict(req.FlowID)
		resp.Result = h.complete(c, flow.Result())
	case login.StateFailed:
		h.evict(req.FlowID)
	}
	httpx.OK(c, resp)
}

func (h *FlowHandler) evict(id string) {
	h.mu.Lock()
	delete(h.flows, id)
	h.mu.Unlock()
}

// complete onboards the freshly exported credential and stores the secondary
// password used during the flow, if any.
func (h *FlowHandler) complete(c *gin.Context, res *login.Result) *engine.OnboardResult {
	out := h.engine.Onboard(c.Request.Context(), res.Credential, engine.OnboardOptions{
		Label:           res.Label,
		PersistProfile:  true,
		RunAcquaintance: true,
		DeviceOverride:  res.DeviceModel,
	})
	if out.Status == engine.StatusSuccess && res.Password != "" {
		if err := h.accounts.UpdateFields(c.Request.Context(), out.Identity, map[string]interface{}{
			"two_factor_secret": h.sealer.Seal(res.Password),
		}); err != nil {
			h.log.Errorf("failed to store secondary password for %d: %v", out.Identity, err)
		}
	}
	return &out
}
