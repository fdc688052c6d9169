package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/hupe1980/postpilot/logging"
	"github.com/hupe1980/postpilot/mention"
)

const (
	defaultAPIBaseURL    = "https://api.twitter.com/2"
	defaultUploadBaseURL = "https://upload.twitter.com/1.1"
)

// Credentials holds the OAuth 1.0a user-context keys for the bot account.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// XClientOptions configure an XClient.
type XClientOptions struct {
	// APIBaseURL overrides the v2 API endpoint, mainly for tests.
	APIBaseURL string
	// UploadBaseURL overrides the v1.1 media upload endpoint.
	UploadBaseURL string
	// HTTPTimeout bounds each platform call.
	HTTPTimeout time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// XClient is the X platform client. Post and reply creation go through
// the v2 API; media upload still requires the v1.1 endpoint. All requests
// are signed with OAuth 1.0a user context.
type XClient struct {
	httpClient *http.Client
	apiBase    string
	uploadBase string
	userID     string
	logger     logging.Logger
}

var (
	_ mention.Platform  = (*XClient)(nil)
	_ mention.Publisher = (*XClient)(nil)
)

// NewXClient builds a signed client for the bot account identified by userID.
func NewXClient(creds Credentials, userID string, optFns ...func(o *XClientOptions)) *XClient {
	opts := XClientOptions{
		APIBaseURL:    defaultAPIBaseURL,
		UploadBaseURL: defaultUploadBaseURL,
		HTTPTimeout:   30 * time.Second,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	httpClient := config.Client(oauth1.NoContext, token)
	httpClient.Timeout = opts.HTTPTimeout

	return &XClient{
		httpClient: httpClient,
		apiBase:    strings.TrimRight(opts.APIBaseURL, "/"),
		uploadBase: strings.TrimRight(opts.UploadBaseURL, "/"),
		userID:     userID,
		logger:     opts.Logger,
	}
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// PublishPost creates a standalone post and returns its id. mediaID may
// be empty for text-only posts.
func (c *XClient) PublishPost(ctx context.Context, text, mediaID string) (string, error) {
	req := tweetRequest{Text: text}
	if mediaID != "" {
		req.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}
	return c.createTweet(ctx, "publish_post", req)
}

// PublishReply creates a reply to the given post and returns the new
// post's id. mediaID may be empty.
func (c *XClient) PublishReply(ctx context.Context, text, inReplyToID, mediaID string) (string, error) {
	req := tweetRequest{
		Text:  text,
		Reply: &tweetReply{InReplyToTweetID: inReplyToID},
	}
	if mediaID != "" {
		req.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}
	return c.createTweet(ctx, "publish_reply", req)
}

func (c *XClient) createTweet(ctx context.Context, op string, req tweetRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/tweets", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Operation: op, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var tweet tweetResponse
	if err := json.Unmarshal(respBody, &tweet); err != nil {
		return "", &Error{Operation: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	c.logger.Info("tweet created", "operation", op, "tweet_id", tweet.Data.ID)
	return tweet.Data.ID, nil
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// UploadMedia uploads raw image bytes via the v1.1 chunkless upload and
// returns the media id to attach to a post.
func (c *XClient) UploadMedia(ctx context.Context, data []byte) (string, error) {
	const op = "upload_media"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("media", "image.png")
	if err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}
	if _, err := part.Write(data); err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}
	if err := writer.Close(); err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadBase+"/media/upload.json", &buf)
	if err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Operation: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Operation: op, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var upload mediaUploadResponse
	if err := json.Unmarshal(respBody, &upload); err != nil {
		return "", &Error{Operation: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	c.logger.Info("media uploaded", "media_id", upload.MediaIDString, "bytes", len(data))
	return upload.MediaIDString, nil
}

type mentionsResponse struct {
	Data []struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		AuthorID string `json:"author_id"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
}

// FetchMentions returns mentions of the bot account newer than sinceID,
// oldest first. sinceID may be empty on the first run.
func (c *XClient) FetchMentions(ctx context.Context, sinceID string) ([]mention.Candidate, error) {
	const op = "fetch_mentions"

	query := url.Values{}
	query.Set("expansions", "author_id")
	query.Set("tweet.fields", "author_id,text")
	query.Set("max_results", "100")
	if sinceID != "" {
		query.Set("since_id", sinceID)
	}

	endpoint := fmt.Sprintf("%s/users/%s/mentions?%s", c.apiBase, c.userID, query.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Operation: op, Message: err.Error()}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Operation: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Operation: op, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var payload mentionsResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, &Error{Operation: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	handles := make(map[string]string, len(payload.Includes.Users))
	for _, user := range payload.Includes.Users {
		handles[user.ID] = user.Username
	}

	// The API returns newest first; reverse so callers see oldest first.
	candidates := make([]mention.Candidate, 0, len(payload.Data))
	for i := len(payload.Data) - 1; i >= 0; i-- {
		tweet := payload.Data[i]
		candidates = append(candidates, mention.Candidate{
			ID:           tweet.ID,
			AuthorHandle: handles[tweet.AuthorID],
			Text:         tweet.Text,
		})
	}

	c.logger.Debug("mentions fetched", "count", len(candidates), "since_id", sinceID)
	return candidates, nil
}
