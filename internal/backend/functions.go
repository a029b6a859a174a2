package backend

import (
	"context"
	"fmt"
	"net/http"
)

// Serverless functions invoked for user actions.
const (
	FnAcceptFavor          = "accept-favor"
	FnDeclineFavor         = "decline-favor"
	FnCompleteFavor        = "complete-favor"
	FnAddReaction          = "add-reaction"
	FnCreditPoints         = "credit-points"
	FnSendThankYou         = "send-thank-you"
	FnMarkNotificationRead = "mark-notification-read"
)

// subjectKeys names the id field each function expects.
var subjectKeys = map[string]string{
	FnAcceptFavor:          "favor_id",
	FnDeclineFavor:         "favor_id",
	FnCompleteFavor:        "favor_id",
	FnAddReaction:          "badge_id",
	FnCreditPoints:         "badge_id",
	FnSendThankYou:         "favor_id",
	FnMarkNotificationRead: "notification_id",
}

// Functions lists the action functions Call accepts.
func Functions() []string {
	return []string{
		FnAcceptFavor, FnDeclineFavor, FnCompleteFavor, FnAddReaction,
		FnCreditPoints, FnSendThankYou, FnMarkNotificationRead,
	}
}

// Invoke posts body to the named function and decodes the response into out
// when out is non-nil.
func (c *Client) Invoke(ctx context.Context, name string, body, out any) error {
	if body == nil {
		body = map[string]any{}
	}
	return c.do(ctx, request{method: http.MethodPost, path: "/functions/v1/" + name, body: body}, out)
}

// Call invokes an action function on subject id on behalf of actorID.
func (c *Client) Call(ctx context.Context, fn, id, actorID string) error {
	key, ok := subjectKeys[fn]
	if !ok {
		return fmt.Errorf("unknown function %q", fn)
	}
	return c.Invoke(ctx, fn, map[string]string{key: id, "actor_id": actorID}, nil)
}
