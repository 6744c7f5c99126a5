package accounts

import (
	"errors"
	"time"

	"sessionfleet/internal/backup"
	"sessionfleet/internal/engine"
	"sessionfleet/internal/httpx"
	"sessionfleet/internal/model"
	"sessionfleet/internal/pause"
	"sessionfleet/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AccountView is one account as returned by the API: the stored document
// plus live runtime state.
type AccountView struct {
	model.Account
	Live            bool `json:"live"`
	KeepAliveActive bool `json:"keep_alive_active"`
	DestroyPaused   bool `json:"destroy_paused"`
}

// OnboardRequest represents onboard request body
type OnboardRequest struct {
	Credential      string `json:"credential" binding:"required"`
	Label           string `json:"label"`
	PersistProfile  bool   `json:"persistProfile"`
	RunAcquaintance bool   `json:"runAcquaintance"`
	DeviceModel     string `json:"deviceModel"`
}

// DeleteRequest represents remove request body
type DeleteRequest struct {
	Identity int64 `json:"identity" binding:"required"`
}

// RenameRequest represents rename request body
type RenameRequest struct {
	Identity int64  `json:"identity" binding:"required"`
	Label    string `json:"label" binding:"required"`
}

// CadenceRequest represents cadence update request body
type CadenceRequest struct {
	Identities []int64 `json:"identities" binding:"required,min=1"`
	Cadence    string  `json:"cadence" binding:"required"`
}

// ToggleDestroyRequest represents destroy flag toggle request body
type ToggleDestroyRequest struct {
	Identity int64 `json:"identity" binding:"required"`
}

// PauseRequest represents pause/resume request body. Scope "destroy" needs
// an identity; scope "notify" is global.
type PauseRequest struct {
	Scope    string `json:"scope" binding:"required,oneof=destroy notify"`
	Identity int64  `json:"identity"`
	Resume   bool   `json:"resume"`
}

// RestoreArchiveRequest represents backup import request body
type RestoreArchiveRequest struct {
	Archive   string `json:"archive" binding:"required"`
	Overwrite bool   `json:"overwrite"`
}

// RotateTwoFactorRequest represents secondary password rotation request body
type RotateTwoFactorRequest struct {
	Identities []int64 `json:"identities" binding:"required,min=1"`
	Current    string  `json:"current"`
	Password   string  `json:"password" binding:"required"`
	Hint       string  `json:"hint"`
	DelaySec   int     `json:"delaySec"`
}

// Handler handles accounts API
type Handler struct {
	engine   *engine.Manager
	accounts *store.Accounts
	pauses   *pause.Registry
	log      *logrus.Entry
}

// NewHandler creates a new accounts handler
func NewHandler(eng *engine.Manager, accounts *store.Accounts, pauses *pause.Registry, log *logrus.Entry) *Handler {
	return &Handler{
		engine:   eng,
		accounts: accounts,
		pauses:   pauses,
		log:      log.WithField("component", "accounts-api"),
	}
}

// List handles GET /api/v1/accounts
func (h *Handler) List(c *gin.Context) {
	accs, err := h.accounts.List(c.Request.Context())
	if err != nil {
		httpx.FailErr(c, httpx.FromStoreError(err))
		return
	}

	views := make([]AccountView, 0, len(accs))
	for _, acc := range accs {
		_, live := h.engine.Live(acc.Identity)
		views = append(views, AccountView{
			Account:         acc,
			Live:            live,
			KeepAliveActive: h.engine.KeepAliveActive(acc.Identity),
			DestroyPaused:   h.pauses.DestroyPaused(c.Request.Context(), acc.Identity),
		})
	}
	httpx.OKItems(c, views, int64(len(views)), 1, len(views))
}

// Detail handles GET /api/v1/accounts/:identifier
func (h *Handler) Detail(c *gin.Context) {
	acc, err := h.engine.LookupByIdentifier(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		httpx.FailErr(c, httpx.FromStoreError(err))
		return
	}
	_, live := h.engine.Live(acc.Identity)
	httpx.OK(c, AccountView{
		Account:         *acc,
		Live:            live,
		KeepAliveActive: h.engine.KeepAliveActive(acc.Identity),
		DestroyPaused:   h.pauses.DestroyPaused(c.Request.Context(), acc.Identity),
	})
}

// Onboard handles POST /api/v1/accounts/onboard
func (h *Handler) Onboard(c *gin.Context) {
	var req OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	res := h.engine.Onboard(c.Request.Context(), req.Credential, engine.OnboardOptions{
		Label:           req.Label,
		PersistProfile:  req.PersistProfile,
		RunAcquaintance: req.RunAcquaintance,
		DeviceOverride:  req.DeviceModel,
	})
	if res.Status == engine.StatusSuccess {
		httpx.OK(c, res)
		return
	}
	// Typed failures are data, not transport errors.
	httpx.OKMsg(c, string(res.Status), res)
}

// RestoreAll handles POST /api/v1/accounts/restore-all
func (h *Handler) RestoreAll(c *gin.Context) {
	httpx.OK(c, h.engine.BulkRestore(c.Request.Context()))
}

// StopAll handles POST /api/v1/accounts/stop-all
func (h *Handler) StopAll(c *gin.Context) {
	stopped := h.engine.StopAll(c.Request.Context())
	httpx.OK(c, gin.H{"stopped": stopped})
}

// Delete handles POST /api/v1/accounts/delete
func (h *Handler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	h.engine.Remove(c.Request.Context(), req.Identity)
	httpx.OKMsg(c, "removal initiated", gin.H{"identity": req.Identity})
}

// Rename handles POST /api/v1/accounts/rename
func (h *Handler) Rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	if err := h.engine.Rename(c.Request.Context(), req.Identity, req.Label); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicateLabel) || errors.Is(err, store.ErrUnavailable) {
			httpx.FailErr(c, httpx.FromStoreError(err))
		} else {
			httpx.FailErr(c, httpx.ErrParamIllegal(err.Error()))
		}
		return
	}
	httpx.OK(c, gin.H{"identity": req.Identity, "label": store.NormalizeLabel(req.Label)})
}

// SetCadence handles POST /api/v1/accounts/cadence
func (h *Handler) SetCadence(c *gin.Context) {
	var req CadenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	errs := h.engine.SetCadence(c.Request.Context(), req.Identities, req.Cadence)
	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		httpx.FailErr(c, httpx.ErrParamIllegal("cadence update incomplete").WithData(msgs))
		return
	}
	httpx.OK(c, gin.H{"cadence": req.Cadence, "updated": len(req.Identities)})
}

// ToggleDestroy handles POST /api/v1/accounts/toggle-destroy
func (h *Handler) ToggleDestroy(c *gin.Context) {
	var req ToggleDestroyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	state, err := h.engine.ToggleDestroyFlag(c.Request.Context(), req.Identity)
	if err != nil {
		httpx.FailErr(c, httpx.FromStoreError(err))
		return
	}
	httpx.OK(c, gin.H{"identity": req.Identity, "destroy_codes": state})
}

// Pause handles POST /api/v1/accounts/pause
func (h *Handler) Pause(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	ctx := c.Request.Context()
	switch req.Scope {
	case "destroy":
		if req.Identity == 0 {
			httpx.FailErr(c, httpx.ErrParamMissing("identity is required for scope destroy"))
			return
		}
		if req.Resume {
			h.pauses.ResumeDestroy(ctx, req.Identity)
		} else {
			h.pauses.PauseDestroy(ctx, req.Identity)
		}
		httpx.OK(c, gin.H{"identity": req.Identity, "paused": !req.Resume})
	case "notify":
		if req.Resume {
			h.pauses.ResumeNotifications(ctx)
		} else {
			h.pauses.PauseNotifications(ctx)
		}
		httpx.OK(c, gin.H{"paused": !req.Resume})
	}
}

// Backup handles GET /api/v1/accounts/backup
func (h *Handler) Backup(c *gin.Context) {
	data, err := backup.Export(c.Request.Context(), h.accounts)
	if err != nil {
		httpx.FailErr(c, httpx.FromStoreError(err))
		return
	}
	c.Data(200, "application/json", data)
}

// RestoreArchive handles POST /api/v1/accounts/restore
func (h *Handler) RestoreArchive(c *gin.Context) {
	var req RestoreArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	report, err := backup.Import(c.Request.Context(), h.accounts, []byte(req.Archive), req.Overwrite, h.log)
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	httpx.OK(c, report)
}

// RefreshProfiles handles POST /api/v1/accounts/refresh-profiles
func (h *Handler) RefreshProfiles(c *gin.Context) {
	errs := h.engine.RefreshProfiles(c.Request.Context())
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	httpx.OK(c, gin.H{"errors": msgs})
}

// RotateTwoFactor handles POST /api/v1/accounts/2fa/rotate
func (h *Handler) RotateTwoFactor(c *gin.Context) {
	var req RotateTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	errs := h.engine.RotateTwoFactor(c.Request.Context(), req.Identities,
		req.Current, req.Password, req.Hint, time.Duration(req.DelaySec)*time.Second)
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	httpx.OK(c, gin.H{
		"rotated": len(req.Identities) - len(errs),
		"total":   len(req.Identities),
		"errors":  msgs,
	})
}
