// Package telephony controls live calls through the Twilio REST API.
package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"

	twilio "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/vango-go/voicebridge/pkg/core"
)

const statusCompleted = "completed"

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// Twilio hangs calls up by moving them to the completed status.
type Twilio struct {
	calls callUpdater
}

func NewTwilio(accountSID, authToken string) *Twilio {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{calls: rest.Api}
}

// Hangup ends callSID. A call that no longer exists is already hung up.
func (t *Twilio) Hangup(ctx context.Context, callSID string) error {
	callSID = strings.TrimSpace(callSID)
	if callSID == "" {
		return core.NewInvalidRequestErrorWithParam("call sid is required", "call_sid")
	}
	params := &api.UpdateCallParams{}
	params.SetStatus(statusCompleted)

	done := make(chan error, 1)
	go func() {
		_, err := t.calls.UpdateCall(callSID, params)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) && restErr.Status == http.StatusNotFound {
			return nil
		}
		if err != nil {
			return core.NewProviderUnavailableError("twilio", err)
		}
		return nil
	}
}
