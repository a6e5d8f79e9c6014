package citizenos

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"github.com/tendant/citizenos-connect/pkg/errors"
)

// StatusCodeOK is the envelope status code Citizen OS uses for success
const StatusCodeOK = 20000

// Topic visibilities
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Status is the status member of a Citizen OS response envelope
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// StatusError is returned when Citizen OS answered with a non-success status
type StatusError struct {
	Status Status
	Body   json.RawMessage
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("citizenos status %d: %s", e.Status.Code, e.Status.Message)
}

// CreateTopicRequest carries the fields a site visitor may set on a topic
type CreateTopicRequest struct {
	Title      string
	Content    string
	Visibility string
	Hashtag    string
	EndsAt     *string
}

// GetUserInfo fetches the profile of the user owning accessToken
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (json.RawMessage, error) {
	return c.ForToken(accessToken).Request(ctx, c.userInfoPath, nil, http.MethodGet)
}

// GetUserGroups lists the groups of the signed-in user
func (c *Client) GetUserGroups(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, BuildPath("groups", false, nil), nil, http.MethodGet)
}

// CreateGroup creates a group owned by the signed-in user
func (c *Client) CreateGroup(ctx context.Context, name string) (json.RawMessage, error) {
	body := map[string]interface{}{
		"name":            name,
		"sourcePartnerId": c.partnerID,
	}
	return c.Request(ctx, BuildPath("groups", false, nil), body, http.MethodPost)
}

// GetUserTopics lists the topics of the signed-in user
func (c *Client) GetUserTopics(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, BuildPath("topics", false, nil), nil, http.MethodGet)
}

// GetPublicTopics lists public topics. No access token is needed.
func (c *Client) GetPublicTopics(ctx context.Context) (json.RawMessage, error) {
	return c.requestPublic(ctx, BuildPath("topics", true, nil))
}

// GetTopic fetches one topic, either from the public listing or from the
// signed-in user's topics.
func (c *Client) GetTopic(ctx context.Context, topicID string, public bool) (json.RawMessage, error) {
	path := BuildPath("topics", public, nil) + "/" + topicID
	if public {
		return c.requestPublic(ctx, path)
	}
	return c.Request(ctx, path, nil, http.MethodGet)
}

// CreateTopic creates a topic and stamps it with its own id as the partner
// object id. The created topic is returned on success.
func (c *Client) CreateTopic(ctx context.Context, in CreateTopicRequest) (json.RawMessage, error) {
	visibility := in.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}

	body := map[string]interface{}{
		"title":           in.Title,
		"description":     topicDescription(in.Title, in.Content),
		"sourcePartnerId": c.partnerID,
		"visibility":      visibility,
		"hashtag":         in.Hashtag,
		"categories":      c.categories,
	}
	if in.EndsAt != nil {
		body["endsAt"] = *in.EndsAt
	}

	created, err := c.Request(ctx, BuildPath("topics", false, nil), body, http.MethodPost)
	if err != nil || created == nil {
		return created, err
	}

	var topic map[string]interface{}
	if err := json.Unmarshal(created, &topic); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Unexpected topic payload")
	}
	topicID := stringify(topic["id"])
	if topicID == "" {
		return nil, errors.New(errors.ErrCodeRequestFailed, "Created topic has no id")
	}
	topic["sourcePartnerObjectId"] = topic["id"]

	path := BuildPath("topics/:topicId", false, map[string]string{":topicId": topicID})
	raw, err := c.send(ctx, path, topic, http.MethodPut, true)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Unexpected topic update payload")
	}
	if envelope.Status.Code != StatusCodeOK {
		slog.Warn("topic update rejected", "topic_id", topicID, "status", envelope.Status.Code, "message", envelope.Status.Message)
		return nil, &StatusError{Status: envelope.Status, Body: raw}
	}

	return json.Marshal(topic)
}

func topicDescription(title, content string) string {
	return "<html><head></head><body><h1>" + html.EscapeString(title) + "</h1><p>" +
		html.EscapeString(content) + "</p></body><html>"
}
