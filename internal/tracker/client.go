package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ale866/malta-photogramme3d/internal/job"
)

// HTTPFetcher polls the server's status endpoint.
type HTTPFetcher struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type statusEnvelope struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    job.StatusDTO `json:"data"`
}

func (f *HTTPFetcher) FetchStatus(ctx context.Context, jobID string) (job.StatusDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return job.StatusDTO{}, err
	}
	req.Header.Set("Authorization", "Bearer "+f.Token)

	resp, err := f.Client.Do(req)
	if err != nil {
		return job.StatusDTO{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return job.StatusDTO{}, fmt.Errorf("status query: http %d", resp.StatusCode)
	}

	var env statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return job.StatusDTO{}, err
	}
	if env.Code != 0 {
		return job.StatusDTO{}, fmt.Errorf("status query: %s", env.Message)
	}
	return env.Data, nil
}

// WSSubscriber subscribes over the server's websocket gateway.
type WSSubscriber struct {
	// URL is the ws:// endpoint, e.g. ws://localhost:3000/ws
	URL   string
	Token string
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *WSSubscriber) Connect(ctx context.Context, jobID string, h Handlers) (func(), error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL+"?token="+s.Token, nil)
	if err != nil {
		return nil, err
	}

	sub, _ := json.Marshal(map[string]any{
		"event": "job:subscribe",
		"data":  map[string]string{"jobId": jobID},
	})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if h.OnConnect != nil {
		h.OnConnect()
	}

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if h.OnDisconnect != nil {
					h.OnDisconnect(err)
				}
				return
			}
			var f wsFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				if h.OnError != nil {
					h.OnError(err)
				}
				continue
			}
			var snap job.StatusDTO
			if err := json.Unmarshal(f.Data, &snap); err != nil {
				if h.OnError != nil {
					h.OnError(err)
				}
				continue
			}
			switch f.Event {
			case "job:snapshot":
				if h.OnSnapshot != nil {
					h.OnSnapshot(snap)
				}
			case "job:update":
				if h.OnUpdate != nil {
					h.OnUpdate(snap)
				}
			}
		}
	}()

	// closing the connection makes the read loop exit; it must not be
	// waited on here because its disconnect handler may need the caller's
	// locks
	closeFn := func() { _ = conn.Close() }
	return closeFn, nil
}
