package outbound

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parkside-crm/outbound/internal"
)

type HttpHandler struct {
	service *Service
}

func (s *Service) HttpHandler() *HttpHandler {
	return &HttpHandler{service: s}
}

// Router wires the campaign endpoints and the metrics endpoint.
func (h *HttpHandler) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/campaigns", h.CreateCampaign).Methods(http.MethodPost)
	router.HandleFunc("/campaigns", h.ListCampaigns).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}", h.GetCampaign).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id}", h.CancelCampaign).Methods(http.MethodDelete)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

func (h *HttpHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	body := &internal.CreateCampaignRequest{}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		http.Error(w, "Failed to parse incoming json", 400)
		return
	}

	input := CampaignInput{
		UserID:          body.UserID,
		Channel:         Channel(body.Channel),
		SenderAccountID: body.SenderAccountID,
		ScheduledFor:    body.ScheduledFor,
		Payload: Payload{
			Subject:        body.Subject,
			TextBody:       body.TextBody,
			HtmlBody:       body.HtmlBody,
			TemplateID:     body.TemplateID,
			TemplateParams: body.TemplateParams,
			Params:         body.Params,
		},
	}

	for _, recipient := range body.Recipients {
		input.Recipients = append(input.Recipients, RecipientInput{
			Address: recipient.Address,
			Name:    recipient.Name,
		})
	}

	id, err := h.service.CreateAndEnqueue(input)
	if err != nil {
		http.Error(w, err.Error(), 422)
		return
	}

	payload := struct {
		ID uuid.UUID `json:"id"`
	}{id}

	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to convert to json", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write(data)
}

func (h *HttpHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		http.Error(w, "Route id var", 400)
		return
	}

	campaignID, err := uuid.Parse(id)
	if err != nil {
		http.Error(w, "Invalid campaign id", 400)
		return
	}

	snapshot, err := h.service.GetStatus(campaignID)
	if err != nil {
		if errors.Cause(err) == CampaignNotFoundErr {
			http.Error(w, "Campaign not found", 404)
			return
		}

		http.Error(w, "Failed to retrieve campaign", 500)
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		http.Error(w, "Failed to convert to json", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *HttpHandler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		http.Error(w, "Route id var", 400)
		return
	}

	campaignID, err := uuid.Parse(id)
	if err != nil {
		http.Error(w, "Invalid campaign id", 400)
		return
	}

	cancelled, err := h.service.Cancel(campaignID)
	if err != nil {
		if errors.Cause(err) == CampaignNotFoundErr {
			http.Error(w, "Campaign not found", 404)
			return
		}

		http.Error(w, "Failed to cancel campaign", 500)
		return
	}

	if !cancelled {
		http.Error(w, "Campaign is no longer cancellable", 409)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HttpHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	criteria := CampaignCriteria{
		UserID: r.URL.Query().Get("userId"),
		Status: CampaignStatus(r.URL.Query().Get("status")),
		Limit:  50,
	}

	campaigns, count, err := h.service.campaigns.Matching(criteria)
	if err != nil {
		http.Error(w, "Failed to retrieve campaigns", 500)
		return
	}

	payload := struct {
		Data  []CampaignRecord `json:"data"`
		Total int              `json:"total"`
	}{campaigns, count}

	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to convert to json", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
