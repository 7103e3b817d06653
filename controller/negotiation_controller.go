package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/usecase"
)

type NegotiationController struct {
	nego   *usecase.NegotiationUsecase
	logger zerolog.Logger
}

func NewNegotiationController(nego *usecase.NegotiationUsecase, logger zerolog.Logger) *NegotiationController {
	return &NegotiationController{nego: nego, logger: logger}
}

func (c *NegotiationController) OfferHistory(w http.ResponseWriter, r *http.Request) {
	offers, err := c.nego.OfferHistory(r.Context(), chi.URLParam(r, "id"), Party(r.Context()))
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (c *NegotiationController) ProposeOffer(w http.ResponseWriter, r *http.Request) {
	var req model.Money
	if err := decode(r, &req, false); err != nil {
		writeError(w, c.logger, err)
		return
	}
	t, err := c.nego.ProposeOffer(r.Context(), chi.URLParam(r, "id"), Party(r.Context()), req)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (c *NegotiationController) SetMinPrice(w http.ResponseWriter, r *http.Request) {
	var req model.Money
	if err := decode(r, &req, false); err != nil {
		writeError(w, c.logger, err)
		return
	}
	t, err := c.nego.SetMinPrice(r.Context(), chi.URLParam(r, "id"), Party(r.Context()), req)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (c *NegotiationController) Agree(w http.ResponseWriter, r *http.Request) {
	t, err := c.nego.Agree(r.Context(), chi.URLParam(r, "id"), Party(r.Context()))
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (c *NegotiationController) RevokeAgreement(w http.ResponseWriter, r *http.Request) {
	t, err := c.nego.RevokeAgreement(r.Context(), chi.URLParam(r, "id"), Party(r.Context()))
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (c *NegotiationController) Checkout(w http.ResponseWriter, r *http.Request) {
	res, err := c.nego.ReadyToPay(r.Context(), chi.URLParam(r, "id"), Party(r.Context()))
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *NegotiationController) Suggest(w http.ResponseWriter, r *http.Request) {
	s, err := c.nego.SuggestReply(r.Context(), chi.URLParam(r, "id"), Party(r.Context()))
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
