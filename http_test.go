package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpFixture struct {
	service *Service
	queue   *MemoryQueue
	router  http.Handler
}

func newHttpFixture(t *testing.T) *httpFixture {
	t.Helper()

	clock := newFakeClock()
	queue := NewMemoryQueue(SetQueueClock(clock.Now))
	campaigns := newMemCampaignRepo()
	creds := newMemCredentialRepo()

	manager := NewCredentialManager(creds, newNullLogger())
	manager.clock = clock.Now

	creds.put(ProviderCredential{
		AccountID:   "acct-1",
		Provider:    ProviderSES,
		AccessToken: "valid-token",
		ExpiresAt:   clock.Now().Add(time.Hour),
	})

	service, err := NewService(
		SetLogger(newNullLogger()),
		SetQueue(queue),
		SetCampaignRepo(campaigns),
		SetCredentialManager(manager),
		SetTransport(newFakeTransport(ChannelEmail)),
		SetClock(clock.Now),
	)
	require.NoError(t, err)

	return &httpFixture{
		service: service,
		queue:   queue,
		router:  service.HttpHandler().Router(),
	}
}

func (f *httpFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()

	f.router.ServeHTTP(rec, req)

	return rec
}

const createBody = `{
	"userId": "user-1",
	"channel": "EMAIL",
	"senderAccountId": "acct-1",
	"subject": "Open house this weekend",
	"textBody": "Hi {{.Name}}, the listing is live.",
	"recipients": [
		{"address": "a@example.com", "name": "Ann"},
		{"address": "b@example.com", "name": "Ben"}
	]
}`

func TestCreateCampaignEndpoint(t *testing.T) {
	fixture := newHttpFixture(t)

	rec := fixture.do(http.MethodPost, "/campaigns", createBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEqual(t, uuid.Nil, created.ID)

	job, err := fixture.queue.FindByCampaign(created.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
}

func TestCreateCampaignEndpointRejectsInvalidInput(t *testing.T) {
	fixture := newHttpFixture(t)

	rec := fixture.do(http.MethodPost, "/campaigns", `{"channel": "EMAIL"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = fixture.do(http.MethodPost, "/campaigns", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCampaignEndpoint(t *testing.T) {
	fixture := newHttpFixture(t)

	rec := fixture.do(http.MethodPost, "/campaigns", createBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = fixture.do(http.MethodGet, "/campaigns/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, CampaignPending, snapshot.Status)
	assert.Equal(t, 0, snapshot.Progress)
}

func TestGetCampaignEndpointNotFound(t *testing.T) {
	fixture := newHttpFixture(t)

	rec := fixture.do(http.MethodGet, "/campaigns/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fixture.do(http.MethodGet, "/campaigns/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelCampaignEndpoint(t *testing.T) {
	fixture := newHttpFixture(t)

	rec := fixture.do(http.MethodPost, "/campaigns", createBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = fixture.do(http.MethodDelete, "/campaigns/"+created.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = fixture.do(http.MethodGet, "/campaigns/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, CampaignCancelled, snapshot.Status)
}

func TestCancelCampaignEndpointConflictsOnceClaimed(t *testing.T) {
	fixture := newHttpFixture(t)

	rec := fixture.do(http.MethodPost, "/campaigns", createBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	job, err := fixture.queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job)
	fixture.service.processJob(context.Background(), fixture.service.logger, job)

	rec = fixture.do(http.MethodDelete, "/campaigns/"+created.ID.String(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListCampaignsEndpoint(t *testing.T) {
	fixture := newHttpFixture(t)

	rec := fixture.do(http.MethodPost, "/campaigns", createBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = fixture.do(http.MethodGet, "/campaigns?userId=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Data  []CampaignRecord `json:"data"`
		Total int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Total)
	require.Len(t, listed.Data, 1)
	assert.Equal(t, "user-1", listed.Data[0].UserID)

	rec = fixture.do(http.MethodGet, "/campaigns?userId=someone-else", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 0, listed.Total)
}
