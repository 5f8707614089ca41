package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"vcrelay/internal/correlation"
	"vcrelay/internal/platform/cache"
	"vcrelay/internal/platform/logger"
	"vcrelay/internal/requests"
	"vcrelay/internal/vcclient"
	"vcrelay/internal/vcclient/mocks"
	dErrors "vcrelay/pkg/domain-errors"
)

const callbackKey = "test-callback-key"

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	api     *mocks.MockAPI
	store   *cache.Store
	service *Service
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.api = mocks.NewMockAPI(s.ctrl)
	s.store = cache.New(cache.WithSweepInterval(time.Minute))

	correlations := correlation.NewService("issuance",
		"QR Code is scanned. Waiting for issuance to complete.",
		s.store, time.Minute, logger.New())

	templates := &requests.Templates{
		Issuance: vcclient.Request{
			Authority:    "did:ion:EiAissuer",
			Registration: vcclient.Registration{ClientName: "VC Relay Demo"},
			Issuance: &vcclient.Issuance{
				Type:     "VerifiedCredentialExpert",
				Manifest: "https://manifests.example.com/expert-issuance",
				Pin:      &vcclient.Pin{Length: 4},
				Claims:   map[string]string{"given_name": "MEGAN", "family_name": "BOWEN"},
			},
		},
		IssuanceManifest: vcclient.Manifest{
			ID:    "VerifiedCredentialExpert",
			Input: vcclient.ManifestInput{Issuer: "did:ion:EiAissuer"},
		},
	}

	var err error
	s.service, err = New(s.api, correlations, templates, callbackKey, logger.New())
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.store.Close()
}

func (s *ServiceSuite) TestCreateRequestAnnotatesResponse() {
	var submitted vcclient.Request
	s.api.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req vcclient.Request) (json.RawMessage, error) {
			submitted = req
			return json.RawMessage(`{"requestId":"req-1","url":"openid://vc/?request_uri=...","expiry":1234}`), nil
		})

	payload, err := s.service.CreateRequest(context.Background(), "https://relay.example.com", url.Values{})
	s.Require().NoError(err)

	// the upstream response passes through untouched except for the additions
	s.Equal("req-1", payload["requestId"])
	s.Equal("openid://vc/?request_uri=...", payload["url"])

	id, ok := payload["id"].(string)
	s.Require().True(ok)
	s.NotEmpty(id)
	s.Equal(id, submitted.Callback.State)
	s.Equal("https://relay.example.com"+CallbackPath, submitted.Callback.URL)
	s.Equal(callbackKey, submitted.Callback.Headers["api-key"])

	pin, ok := payload["pin"].(string)
	s.Require().True(ok)
	s.Len(pin, 4)
	s.Equal(pin, submitted.Issuance.Pin.Value)
}

func (s *ServiceSuite) TestCreateRequestOverridesClaimsFromQuery() {
	var submitted vcclient.Request
	s.api.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req vcclient.Request) (json.RawMessage, error) {
			submitted = req
			return json.RawMessage(`{}`), nil
		})

	query := url.Values{"given_name": {"Jane"}, "unknown_claim": {"ignored"}}
	_, err := s.service.CreateRequest(context.Background(), "https://relay.example.com", query)
	s.Require().NoError(err)

	s.Equal("Jane", submitted.Issuance.Claims["given_name"])
	s.Equal("BOWEN", submitted.Issuance.Claims["family_name"])
	s.NotContains(submitted.Issuance.Claims, "unknown_claim")
}

func (s *ServiceSuite) TestCreateRequestEachCallGetsFreshState() {
	states := make(map[string]bool)
	s.api.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, req vcclient.Request) (json.RawMessage, error) {
			states[req.Callback.State] = true
			return json.RawMessage(`{}`), nil
		})

	_, err := s.service.CreateRequest(context.Background(), "https://relay.example.com", url.Values{})
	s.Require().NoError(err)
	_, err = s.service.CreateRequest(context.Background(), "https://relay.example.com", url.Values{})
	s.Require().NoError(err)
	s.Len(states, 2)
}

func (s *ServiceSuite) TestCreateRequestUpstreamErrorPropagates() {
	s.api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil,
		dErrors.New(dErrors.CodeUpstream, `{"error":"bad authority"}`))

	_, err := s.service.CreateRequest(context.Background(), "https://relay.example.com", url.Values{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Equal(`{"error":"bad authority"}`, err.Error())
}

func (s *ServiceSuite) TestCallbackThenPollReturnsProgressRecord() {
	id := "corr-issue-1"
	body := fmt.Sprintf(`{"code":"request_retrieved","state":%q,"requestId":"req-5"}`, id)
	s.Require().NoError(s.service.HandleCallback(context.Background(), []byte(body)))

	buf, found := s.service.PollResponse(context.Background(), id)
	s.Require().True(found)

	var record correlation.Record
	s.Require().NoError(json.Unmarshal(buf, &record))
	s.Equal(correlation.StatusRetrieved, record.Status)
	s.Equal("QR Code is scanned. Waiting for issuance to complete.", record.Message)

	_, found = s.service.PollResponse(context.Background(), id)
	s.False(found)
}

func (s *ServiceSuite) TestStoreResponseThenPollReturnsRawBody() {
	body := []byte(`{"state":"corr-issue-2","claims":{"given_name":"Jane"}}`)
	s.Require().NoError(s.service.StoreResponse(context.Background(), body))

	buf, found := s.service.PollResponse(context.Background(), "corr-issue-2")
	s.Require().True(found)
	s.JSONEq(string(body), string(buf))
}

func (s *ServiceSuite) TestStoreResponseWithoutState() {
	err := s.service.StoreResponse(context.Background(), []byte(`{"claims":{}}`))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	err = s.service.StoreResponse(context.Background(), []byte(`not json`))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestVerifyCallbackKey() {
	s.NoError(s.service.VerifyCallbackKey(callbackKey))

	err := s.service.VerifyCallbackKey("wrong-key")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
