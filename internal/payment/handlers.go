package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/acquiremock/internal/common"
	"github.com/noah-isme/acquiremock/internal/csrf"
	"github.com/noah-isme/acquiremock/internal/vault"
	"github.com/noah-isme/acquiremock/internal/web"
)

// Handlers exposes the payment lifecycle over HTTP: the merchant API under
// /api and the hosted checkout pages.
type Handlers struct {
	Lifecycle *Lifecycle
	Vault     vault.Vault
	Pages     *web.Renderer
	Validate  *validator.Validate
	Logger    zerolog.Logger

	// PageURL builds the absolute checkout URL returned to merchants.
	PageURL        func(paymentID string) string
	CurrencySymbol string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// Register mounts the payment routes.
func (h *Handlers) Register(r chi.Router) {
	r.Post("/api/create-invoice", h.CreateInvoice)
	r.Post("/api/pay/{paymentID}", h.Pay)
	r.Post("/api/otp/verify/{paymentID}", h.VerifyOTP)
	r.Post("/api/refund/{paymentID}", h.Refund)
	r.Get("/api/user-info", h.UserInfo)

	r.Get("/checkout/{paymentID}", h.CheckoutPage)
	r.Get("/otp/{paymentID}", h.OTPPage)
	r.Get("/success/{paymentID}", h.SuccessPage)
}

type createInvoiceRequest struct {
	Amount      int64  `json:"amount" validate:"gte=0"`
	Reference   string `json:"reference" validate:"required"`
	WebhookURL  string `json:"webhookUrl" validate:"required,url"`
	RedirectURL string `json:"redirectUrl" validate:"required,url"`
}

type createInvoiceResponse struct {
	PageURL string `json:"pageUrl"`
}

// CreateInvoice registers a new payment and returns the hosted page URL.
func (h *Handlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body", "")
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationMessage(err), "")
		return
	}

	p, err := h.Lifecycle.Create(r.Context(), CreateParams{
		Amount:      req.Amount,
		Reference:   req.Reference,
		WebhookURL:  req.WebhookURL,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, createInvoiceResponse{PageURL: h.PageURL(p.ID)})
}

// CheckoutPage renders the card form and plants the CSRF cookie.
func (h *Handlers) CheckoutPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	p, token, err := h.Lifecycle.OpenCheckout(r.Context(), id)
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.setCSRFCookie(w, token, p)
	h.Pages.Render(w, http.StatusOK, "checkout.html", map[string]any{
		"Payment":        p,
		"CSRFToken":      token,
		"CurrencySymbol": h.CurrencySymbol,
	})
}

// Pay authorizes the card and redirects to the OTP challenge or straight to
// the success page.
func (h *Handlers) Pay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	if err := r.ParseForm(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid form body", id)
		return
	}
	p, err := h.Lifecycle.Authorize(r.Context(), AuthorizeParams{
		PaymentID:  id,
		CardNumber: r.PostFormValue("card_number"),
		Expiry:     r.PostFormValue("expiry"),
		CVV:        r.PostFormValue("cvv"),
		Email:      r.PostFormValue("email"),
		SaveCard:   r.PostFormValue("save_card") == "true" || r.PostFormValue("save_card") == "on",
		CSRFCookie: cookieValue(r),
		CSRFForm:   r.PostFormValue(csrf.FormField),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if p.Status == StatusWaitingForOTP {
		http.Redirect(w, r, "/otp/"+p.ID, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/success/"+p.ID, http.StatusSeeOther)
}

// OTPPage renders the confirmation code form.
func (h *Handlers) OTPPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	p, err := h.Lifecycle.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, err)
		return
	}
	if p.Status != StatusWaitingForOTP {
		h.renderError(w, ErrInvalidState(id))
		return
	}
	token, err := h.Lifecycle.Guard.Issue(r.Context(), id)
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.setCSRFCookie(w, token, p)
	h.Pages.Render(w, http.StatusOK, "otp.html", map[string]any{
		"Payment":   p,
		"Email":     p.OTPEmail,
		"CSRFToken": token,
	})
}

// VerifyOTP checks the submitted code and redirects to the success page.
func (h *Handlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	if err := r.ParseForm(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid form body", id)
		return
	}
	p, err := h.Lifecycle.VerifyOTP(r.Context(), id,
		r.PostFormValue("otp_code"),
		cookieValue(r),
		r.PostFormValue(csrf.FormField),
	)
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, "/success/"+p.ID, http.StatusSeeOther)
}

// SuccessPage renders the settlement receipt page.
func (h *Handlers) SuccessPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	p, err := h.Lifecycle.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.Pages.Render(w, http.StatusOK, "success.html", map[string]any{
		"Payment":        p,
		"CurrencySymbol": h.CurrencySymbol,
	})
}

// Refund moves a paid payment to refunded.
func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	p, err := h.Lifecycle.Refund(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"payment_id": p.ID,
		"status":     p.Status,
	})
}

type userInfoResponse struct {
	Email      string                      `json:"email"`
	Cards      []vault.SavedCard           `json:"cards"`
	Operations []vault.SuccessfulOperation `json:"operations"`
}

// UserInfo returns the saved cards and settlement history for an email.
func (h *Handlers) UserInfo(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email query parameter is required", "")
		return
	}
	cards, ops, err := h.Vault.Lookup(r.Context(), email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if cards == nil {
		cards = []vault.SavedCard{}
	}
	if ops == nil {
		ops = []vault.SuccessfulOperation{}
	}
	common.JSON(w, http.StatusOK, userInfoResponse{Email: email, Cards: cards, Operations: ops})
}

func (h *Handlers) setCSRFCookie(w http.ResponseWriter, token string, p Payment) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrf.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  p.ExpiresAt,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.CookieSameSite,
	})
}

// writeError maps domain errors to the structured JSON error body.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var derr *Error
	if errors.As(err, &derr) {
		common.JSONError(w, derr.HTTPStatus, derr.Code, derr.Message, derr.PaymentID)
		return
	}
	h.Logger.Error().Err(err).Msg("request failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", "")
}

// renderError is writeError for the hosted pages: browsers get HTML.
func (h *Handlers) renderError(w http.ResponseWriter, err error) {
	var derr *Error
	if errors.As(err, &derr) {
		h.Pages.Render(w, derr.HTTPStatus, "error.html", map[string]any{
			"Title":   http.StatusText(derr.HTTPStatus),
			"Message": derr.Message,
		})
		return
	}
	h.Logger.Error().Err(err).Msg("request failed")
	h.Pages.Render(w, http.StatusInternalServerError, "error.html", map[string]any{
		"Title":   "Something went wrong",
		"Message": "Please try again later.",
	})
}

func cookieValue(r *http.Request) string {
	c, err := r.Cookie(csrf.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := verrs[0].Field()
		return strings.ToLower(field[:1]) + field[1:] + " is invalid or missing"
	}
	return "validation failed"
}
