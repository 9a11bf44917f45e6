package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/putmeon/internal/adapters/http/api"
	"github.com/okian/putmeon/internal/adapters/pubsub"
	service "github.com/okian/putmeon/internal/app"
	"github.com/okian/putmeon/internal/domain/grading"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type harness struct {
	svc *service.Service
	srv *httptest.Server
}

func newHarness() *harness {
	svc := service.New(
		service.WithWorkerCount(2),
		service.WithJWTSecret("api-test-secret"),
		service.WithLogger(logger.Nop()),
	)
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, api.WithPingInterval(50*time.Millisecond), api.WithPongTimeout(time.Second)).Register(mux)
	return &harness{svc: svc, srv: httptest.NewServer(mux)}
}

func (h *harness) close() {
	h.srv.Close()
	_ = h.svc.Stop(context.Background())
}

// do sends a JSON request and decodes a JSON response into out when given.
func (h *harness) do(method, path, token string, body any, out any) int {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, h.srv.URL+path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *harness) guest(handle string) authResponse {
	var a authResponse
	h.do(http.MethodPost, "/auth/guest", "", map[string]string{"handle": handle}, &a)
	return a
}

func presenceOf(h *harness, token, uid string) string {
	var records []model.PresenceRecord
	h.do(http.MethodGet, "/presence", token, nil, &records)
	for _, r := range records {
		if r.UID == uid {
			return r.State
		}
	}
	return ""
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestAuth(t *testing.T) {
	Convey("Given a running API", t, func() {
		h := newHarness()
		defer h.close()

		Convey("anonymous requests are rejected", func() {
			var e errorResponse
			So(h.do(http.MethodGet, "/queue", "", nil, &e), ShouldEqual, http.StatusUnauthorized)
			So(e.Code, ShouldEqual, "unauthorized")
		})

		Convey("a guest without a handle gets a generated one", func() {
			var a authResponse
			So(h.do(http.MethodPost, "/auth/guest", "", nil, &a), ShouldEqual, http.StatusCreated)
			So(a.Token, ShouldNotBeBlank)
			So(a.User.Handle, ShouldStartWith, "Guest_")
			So(a.User.IsGuest, ShouldBeTrue)
		})

		Convey("a chosen handle is kept and /me reports it", func() {
			a := h.guest("Alice")
			So(a.User.Handle, ShouldEqual, "Alice")

			var me model.User
			So(h.do(http.MethodGet, "/me", a.Token, nil, &me), ShouldEqual, http.StatusOK)
			So(me.UID, ShouldEqual, a.User.UID)
			So(me.Stats, ShouldResemble, model.Stats{})
		})

		Convey("malformed bodies are validation errors", func() {
			req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/auth/guest", strings.NewReader("{"))
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("a signed-out token stops working", func() {
			a := h.guest("Bob")
			So(h.do(http.MethodPost, "/auth/signout", a.Token, nil, nil), ShouldEqual, http.StatusNoContent)
			So(h.do(http.MethodGet, "/me", a.Token, nil, nil), ShouldEqual, http.StatusUnauthorized)
		})
	})
}

func TestSessionFlow(t *testing.T) {
	Convey("Given a host and a guest", t, func() {
		h := newHarness()
		defer h.close()
		host := h.guest("Host")
		guest := h.guest("Guest")

		var track model.Track
		So(h.do(http.MethodPost, "/queue", guest.Token, map[string]string{"artist": "Drake", "title": "God's Plan"}, &track),
			ShouldEqual, http.StatusCreated)
		So(track.Tier, ShouldEqual, model.DefaultTier)

		Convey("the queue lists the submission", func() {
			var list []model.Track
			So(h.do(http.MethodGet, "/queue", host.Token, nil, &list), ShouldEqual, http.StatusOK)
			So(len(list), ShouldEqual, 1)
			So(list[0].SubmittedBy, ShouldEqual, "Guest")
		})

		Convey("promoting an unknown track is not found", func() {
			var e errorResponse
			So(h.do(http.MethodPost, "/host/promote/nope", host.Token, nil, &e), ShouldEqual, http.StatusNotFound)
			So(e.Code, ShouldEqual, "not_found")
		})

		Convey("a promoted track is graded and lands on the leaderboard", func() {
			var st model.SessionState
			So(h.do(http.MethodPost, "/host/promote/"+track.ID, host.Token, nil, &st), ShouldEqual, http.StatusOK)
			So(st.Phase, ShouldEqual, model.PhaseClosed)
			So(st.Track.ID, ShouldEqual, track.ID)

			grade := map[string]any{"trackId": track.ID, "scores": grading.Uniform(2)}

			var e errorResponse
			So(h.do(http.MethodPost, "/grades", guest.Token, grade, &e), ShouldEqual, http.StatusConflict)
			So(e.Code, ShouldEqual, "grading_closed")

			So(h.do(http.MethodPost, "/host/grading/open", host.Token, nil, &st), ShouldEqual, http.StatusOK)
			So(st.GradingOpen(), ShouldBeTrue)

			var e2 errorResponse
			So(h.do(http.MethodPost, "/host/clear", host.Token, nil, &e2), ShouldEqual, http.StatusConflict)
			So(e2.Code, ShouldEqual, "invalid_transition")

			var res struct {
				Vote  model.Vote  `json:"vote"`
				Stats model.Stats `json:"stats"`
			}
			So(h.do(http.MethodPost, "/grades", guest.Token, grade, &res), ShouldEqual, http.StatusCreated)
			So(res.Vote.Total, ShouldEqual, 20)
			So(res.Stats, ShouldResemble, model.Stats{TotalVotes: 1, TotalScoreSum: 20})

			var e3 errorResponse
			So(h.do(http.MethodPost, "/grades", guest.Token, grade, &e3), ShouldEqual, http.StatusConflict)
			So(e3.Code, ShouldEqual, "already_graded")

			stale := map[string]any{"trackId": "old", "scores": grading.Uniform(2)}
			var e4 errorResponse
			So(h.do(http.MethodPost, "/grades", host.Token, stale, &e4), ShouldEqual, http.StatusConflict)
			So(e4.Code, ShouldEqual, "stale_track")

			bad := map[string]any{"trackId": track.ID, "scores": grading.Uniform(11)}
			var e5 errorResponse
			So(h.do(http.MethodPost, "/grades", host.Token, bad, &e5), ShouldEqual, http.StatusBadRequest)
			So(e5.Code, ShouldEqual, "validation_error")

			for _, body := range []map[string]any{
				{"trackId": track.ID},
				{"trackId": track.ID, "scores": map[string]any{}},
				{"trackId": track.ID, "scores": map[string]any{"flow": 10}},
			} {
				var e6 errorResponse
				So(h.do(http.MethodPost, "/grades", host.Token, body, &e6), ShouldEqual, http.StatusBadRequest)
				So(e6.Code, ShouldEqual, "validation_error")
			}
			var hostMe model.User
			So(h.do(http.MethodGet, "/me", host.Token, nil, &hostMe), ShouldEqual, http.StatusOK)
			So(hostMe.Stats, ShouldResemble, model.Stats{})

			var vs []model.Vote
			So(h.do(http.MethodGet, "/tracks/"+track.ID+"/votes", host.Token, nil, &vs), ShouldEqual, http.StatusOK)
			So(len(vs), ShouldEqual, 1)

			So(h.do(http.MethodPost, "/host/grading/close", host.Token, nil, &st), ShouldEqual, http.StatusOK)
			So(st.Phase, ShouldEqual, model.PhaseClosed)

			var board []model.HistoryEntry
			So(h.do(http.MethodGet, "/leaderboard", host.Token, nil, &board), ShouldEqual, http.StatusOK)
			So(len(board), ShouldEqual, 1)
			So(board[0].Artist, ShouldEqual, "Drake")
			So(board[0].Score, ShouldEqual, 20)

			var me model.User
			So(h.do(http.MethodGet, "/me", guest.Token, nil, &me), ShouldEqual, http.StatusOK)
			So(me.Rank, ShouldEqual, "Rookie Listener")

			So(h.do(http.MethodPost, "/host/clear", host.Token, nil, &st), ShouldEqual, http.StatusOK)
			So(st.Phase, ShouldEqual, model.PhaseNoTrack)
		})
	})
}

func TestFavoritesAndStats(t *testing.T) {
	Convey("Given a signed-in guest", t, func() {
		h := newHarness()
		defer h.close()
		a := h.guest("Crate")

		Convey("toggling twice saves then removes a song", func() {
			body := map[string]string{"artist": "A.B.", "title": "x/y"}
			var res struct {
				Saved bool                `json:"saved"`
				Entry model.FavoriteEntry `json:"entry"`
			}
			So(h.do(http.MethodPost, "/favorites/toggle", a.Token, body, &res), ShouldEqual, http.StatusOK)
			So(res.Saved, ShouldBeTrue)
			So(res.Entry.Key, ShouldEqual, "A_B__x_y")

			var list []model.FavoriteEntry
			So(h.do(http.MethodGet, "/favorites", a.Token, nil, &list), ShouldEqual, http.StatusOK)
			So(len(list), ShouldEqual, 1)

			So(h.do(http.MethodPost, "/favorites/toggle", a.Token, body, &res), ShouldEqual, http.StatusOK)
			So(res.Saved, ShouldBeFalse)
		})

		Convey("stats and metrics are served", func() {
			var stats map[string]any
			So(h.do(http.MethodGet, "/stats", "", nil, &stats), ShouldEqual, http.StatusOK)
			So(stats["started"], ShouldEqual, true)
			So(h.do(http.MethodGet, "/healthz", "", nil, nil), ShouldEqual, http.StatusOK)
		})
	})
}

type wsFrame struct {
	Type     string           `json:"type"`
	ConnID   string           `json:"connId"`
	Snapshot *pubsub.Snapshot `json:"snapshot"`
	Code     string           `json:"code"`
}

func dial(h *harness, token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		panic(err)
	}
	return conn
}

// readUntil reads frames until ok accepts one.
func readUntil(conn *websocket.Conn, ok func(wsFrame) bool) bool {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			return false
		}
		if ok(f) {
			return true
		}
	}
}

func TestWebsocket(t *testing.T) {
	Convey("Given a guest connected over websocket", t, func() {
		h := newHarness()
		defer h.close()
		a := h.guest("Live")
		conn := dial(h, a.Token)
		defer func() { _ = conn.Close() }()

		So(readUntil(conn, func(f wsFrame) bool { return f.Type == "ready" && f.ConnID != "" }), ShouldBeTrue)
		So(eventually(func() bool { return presenceOf(h, a.Token, a.User.UID) == model.Online }), ShouldBeTrue)

		Convey("a subscription receives the current and the changed queue", func() {
			So(conn.WriteJSON(map[string]string{"op": "subscribe", "path": "queue"}), ShouldBeNil)
			So(readUntil(conn, func(f wsFrame) bool { return f.Type == "snapshot" && len(f.Snapshot.Docs) == 0 }), ShouldBeTrue)

			So(h.do(http.MethodPost, "/queue", a.Token, map[string]string{"artist": "Sade", "title": "Kiss"}, nil),
				ShouldEqual, http.StatusCreated)
			So(readUntil(conn, func(f wsFrame) bool { return f.Type == "snapshot" && len(f.Snapshot.Docs) == 1 }), ShouldBeTrue)
		})

		Convey("unknown operations are reported, not fatal", func() {
			So(conn.WriteJSON(map[string]string{"op": "dance"}), ShouldBeNil)
			So(readUntil(conn, func(f wsFrame) bool { return f.Type == "error" && f.Code == "validation_error" }), ShouldBeTrue)
		})

		Convey("a normal close marks the guest offline", func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			So(conn.WriteMessage(websocket.CloseMessage, msg), ShouldBeNil)
			So(eventually(func() bool { return presenceOf(h, a.Token, a.User.UID) == model.Offline }), ShouldBeTrue)
		})

		Convey("an abrupt drop also marks the guest offline", func() {
			So(conn.NetConn().Close(), ShouldBeNil)
			So(eventually(func() bool { return presenceOf(h, a.Token, a.User.UID) == model.Offline }), ShouldBeTrue)
		})

		Convey("signing out closes the socket", func() {
			So(h.do(http.MethodPost, "/auth/signout", a.Token, nil, nil), ShouldEqual, http.StatusNoContent)
			So(readUntil(conn, func(wsFrame) bool { return false }), ShouldBeFalse)
		})
	})
}
