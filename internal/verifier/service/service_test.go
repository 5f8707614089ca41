package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
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

const callbackKey = "verifier-test-key"

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

	correlations := correlation.NewService("presentation",
		"QR Code is scanned. Waiting for validation...",
		s.store, time.Minute, logger.New(),
		correlation.WithTerminalCode(vcclient.CodePresentationVerified),
	)

	templates := &requests.Templates{
		Presentation: vcclient.Request{
			Authority:    "did:ion:EiAverifier",
			Registration: vcclient.Registration{ClientName: "VC Relay Demo"},
			Presentation: &vcclient.Presentation{
				IncludeReceipt: true,
				RequestedCredentials: []vcclient.RequestedCredential{{
					Type:           "VerifiedCredentialExpert",
					Manifest:       "https://manifests.example.com/expert",
					TrustedIssuers: []string{"did:ion:EiAissuer"},
				}},
			},
		},
		PresentationManifest: vcclient.Manifest{
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

// unsignedJWT builds header.payload.signature with a junk signature, the
// shape of the tokens nested in a VC Client API receipt.
func (s *ServiceSuite) unsignedJWT(payload map[string]any) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256K","typ":"JWT"}`))
	body, err := json.Marshal(payload)
	s.Require().NoError(err)
	return header + "." + base64.RawURLEncoding.EncodeToString(body) + ".c2ln"
}

// receiptIDToken builds the nested token chain of a verified presentation:
// credential inside presentation inside id_token.
func (s *ServiceSuite) receiptIDToken(iss, sub string) string {
	credential := s.unsignedJWT(map[string]any{"iss": iss, "sub": sub})
	presentation := s.unsignedJWT(map[string]any{
		"vp": map[string]any{"verifiableCredential": []any{credential}},
	})
	return s.unsignedJWT(map[string]any{
		"presentation_submission": map[string]any{
			"descriptor_map": []any{map[string]any{
				"id":   "VerifiedCredentialExpert",
				"path": "$.attestations.presentations.VerifiedCredentialExpert",
			}},
		},
		"attestations": map[string]any{
			"presentations": map[string]any{"VerifiedCredentialExpert": presentation},
		},
	})
}

func (s *ServiceSuite) verifiedCallback(id, idToken string) {
	event := map[string]any{
		"code":      vcclient.CodePresentationVerified,
		"state":     id,
		"requestId": "req-1",
		"issuers": []any{map[string]any{
			"claims": map[string]any{
				"firstName": "Jane",
				"lastName":  "Doe",
				"sub":       "oid-123",
				"tid":       "tid-456",
				"username":  "jane@example.com",
			},
		}},
		"receipt": map[string]any{"id_token": idToken},
	}
	body, err := json.Marshal(event)
	s.Require().NoError(err)
	s.Require().NoError(s.service.HandleCallback(context.Background(), body))
}

func (s *ServiceSuite) TestCreateRequestAnnotatesResponse() {
	var submitted vcclient.Request
	s.api.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req vcclient.Request) (json.RawMessage, error) {
			submitted = req
			return json.RawMessage(`{"requestId":"req-1","url":"openid://vc/?request_uri=..."}`), nil
		})

	payload, err := s.service.CreateRequest(context.Background(), "https://relay.example.com")
	s.Require().NoError(err)

	id, ok := payload["id"].(string)
	s.Require().True(ok)
	s.NotEmpty(id)
	s.Equal("openid://vc/?request_uri=...", payload["url"])

	s.Equal(id, submitted.Callback.State)
	s.NotEmpty(submitted.Callback.Nonce)
	s.Equal("https://relay.example.com"+CallbackPath, submitted.Callback.URL)
	s.Equal(callbackKey, submitted.Callback.Headers["api-key"])
	s.Nil(submitted.Issuance)
}

func (s *ServiceSuite) TestCreateRequestUpstreamErrorPropagates() {
	s.api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil,
		dErrors.New(dErrors.CodeUpstream, `{"requestId":"x","error":{"code":"badRequest"}}`))

	_, err := s.service.CreateRequest(context.Background(), "https://relay.example.com")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ServiceSuite) TestStatusProgression() {
	id := "corr-1"
	s.Require().NoError(s.service.HandleCallback(context.Background(),
		[]byte(fmt.Sprintf(`{"code":"request_retrieved","state":%q}`, id))))

	record, found := s.service.Status(context.Background(), id, "")
	s.Require().True(found)
	s.Equal(correlation.StatusRetrieved, record.Status)
	s.Equal("QR Code is scanned. Waiting for validation...", record.Message)

	_, found = s.service.Status(context.Background(), id, "")
	s.False(found)
}

func (s *ServiceSuite) TestStatusFallsBackToRequestID() {
	id := "corr-2"
	s.Require().NoError(s.service.HandleCallback(context.Background(),
		[]byte(fmt.Sprintf(`{"code":"request_retrieved","state":%q,"requestId":"req-9"}`, id))))

	record, found := s.service.Status(context.Background(), "stale-id", "req-9")
	s.Require().True(found)
	s.Equal(correlation.StatusRetrieved, record.Status)
}

func (s *ServiceSuite) TestStatusB2CShapesClaims() {
	id := "corr-3"
	sub := "did:ion:EiAholder:eyJkZWx0YSI"
	s.verifiedCallback(id, s.receiptIDToken("did:ion:EiAissuer", sub))

	response, err := s.service.StatusB2C(context.Background(), id)
	s.Require().NoError(err)

	s.Equal(id, response.ID)
	s.True(response.CredentialsVerified)
	s.Equal("VerifiedCredentialExpert", response.CredentialType)
	s.Equal("Jane Doe", response.DisplayName)
	s.Equal("Jane", response.GivenName)
	s.Equal("Doe", response.SurName)
	s.Equal("did:ion:EiAissuer", response.Iss)
	s.Equal(sub, response.Sub)
	s.Equal("did.ion.EiAholder", response.Key)
	s.Equal("oid-123", response.OID)
	s.Equal("tid-456", response.TID)
	s.Equal("jane@example.com", response.Username)
}

func (s *ServiceSuite) TestStatusB2CConsumesRecord() {
	id := "corr-4"
	s.verifiedCallback(id, s.receiptIDToken("did:ion:EiAissuer", "did:ion:EiAholder"))

	_, err := s.service.StatusB2C(context.Background(), id)
	s.Require().NoError(err)

	_, err = s.service.StatusB2C(context.Background(), id)
	s.ErrorIs(err, ErrNotPresented)
}

func (s *ServiceSuite) TestStatusB2CUnknownID() {
	_, err := s.service.StatusB2C(context.Background(), "never-seen")
	s.ErrorIs(err, ErrNotPresented)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestStatusB2CRetrievedOnlyIsNotPresented() {
	id := "corr-5"
	s.Require().NoError(s.service.HandleCallback(context.Background(),
		[]byte(fmt.Sprintf(`{"code":"request_retrieved","state":%q}`, id))))

	_, err := s.service.StatusB2C(context.Background(), id)
	s.ErrorIs(err, ErrNotPresented)
}

func (s *ServiceSuite) TestStatusB2CBadReceiptConsumesRecordAnyway() {
	id := "corr-6"
	s.verifiedCallback(id, "not-a-jwt")

	_, err := s.service.StatusB2C(context.Background(), id)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	// removed before parsing: a retry does not see the bad record again
	_, err = s.service.StatusB2C(context.Background(), id)
	s.ErrorIs(err, ErrNotPresented)
}

func (s *ServiceSuite) TestSubjectKey() {
	s.Equal("did.ion.EiAholder", subjectKey("did:ion:EiAholder:eyJkZWx0YSI"))
	s.Equal("did.ion.EiAholder", subjectKey("did:ion:EiAholder"))
	s.Equal("did.web.example.com", subjectKey("did.web.example.com"))
	s.Empty(subjectKey(""))
}

func (s *ServiceSuite) TestVerifyCallbackKey() {
	s.NoError(s.service.VerifyCallbackKey(callbackKey))
	s.Error(s.service.VerifyCallbackKey("wrong"))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
