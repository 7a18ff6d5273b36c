package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/auth"
	"signet/internal/chat"
	"signet/internal/db"
	"signet/internal/keydir"
	"signet/internal/middleware"
	"signet/internal/models"
	"signet/internal/replay"
	"signet/internal/repository"
	"signet/internal/types"
	"signet/internal/verify"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	conn, err := db.Connect(db.DriverSQLite, filepath.Join(t.TempDir(), "api-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn, db.DriverSQLite))

	guard := replay.NewGuard(90, func() int64 { return time.Now().Unix() })
	verifier := verify.NewVerifier(keydir.IdentityDirectory{}, guard)

	hub := chat.NewHub(2)
	go hub.Run()
	t.Cleanup(func() { close(hub.Quit) })

	svc := chat.NewService(repository.NewRoomRepo(conn), repository.NewChatRepo(conn), verifier, hub)
	issuer := auth.NewTokenIssuer([]byte("test-signing-key"), 15*time.Minute)
	limiter := middleware.NewKeyedLimiter(10000, time.Millisecond)

	srv := httptest.NewServer(NewRouter(svc, hub, issuer, verifier, limiter))
	t.Cleanup(srv.Close)
	return srv
}

type signer struct {
	priv  ed25519.PrivateKey
	user  models.UserKey
	nonce uint64
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &signer{priv: priv, user: models.KeyToUser(pub)}
}

func (s *signer) sign(t *testing.T, payload models.Payload) *models.Envelope {
	t.Helper()
	s.nonce++
	env := &models.Envelope{
		Signee: models.Signee{
			Nonce:     s.nonce,
			Payload:   payload,
			Timestamp: uint64(time.Now().Unix()),
			User:      s.user,
		},
	}
	msg, err := env.SigneeBytes()
	require.NoError(t, err)
	env.Sig = models.HexBytes(ed25519.Sign(s.priv, msg))
	return env
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func getJSON(t *testing.T, url string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func errCode(t *testing.T, body []byte) string {
	t.Helper()
	var e types.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e), "error body: %s", body)
	return e.Code
}

func createRoom(t *testing.T, srv *httptest.Server, s *signer, attrs models.RoomAttrs) string {
	t.Helper()
	env := s.sign(t, &models.CreateRoomPayload{
		Attrs:   attrs,
		Members: []models.RoomMember{{Permission: models.PermAll, User: s.user}},
		Title:   "api test room",
	})
	resp, body := postJSON(t, srv.URL+"/api/rooms", env)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)
	var out types.CreateRoomResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Room)
	return out.Room
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreatePostAndHistory(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)

	roomID := createRoom(t, srv, alice, models.AttrPublicReadable)

	resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
		alice.sign(t, &models.ChatPayload{Room: roomID, Text: "hello over http"}))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	var posted types.PostChatResponse
	require.NoError(t, json.Unmarshal(body, &posted))
	assert.Equal(t, uint64(1), posted.Cid)

	resp, body = getJSON(t, srv.URL+"/api/rooms/"+roomID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist types.HistoryResponse
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Len(t, hist.Items, 1)
	assert.Equal(t, "hello over http", hist.Items[0].Text)
	assert.Equal(t, alice.user, hist.Items[0].User)
}

func TestHistoryPagination(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)

	roomID := createRoom(t, srv, alice, models.AttrPublicReadable)
	for i := 1; i <= 5; i++ {
		resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
			alice.sign(t, &models.ChatPayload{Room: roomID, Text: fmt.Sprintf("msg %d", i)}))
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	}

	resp, body := getJSON(t, srv.URL+"/api/rooms/"+roomID+"/history?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page types.HistoryResponse
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, uint64(5), page.Items[0].Cid)
	assert.Equal(t, uint64(4), page.Items[1].Cid)

	resp, body = getJSON(t, srv.URL+"/api/rooms/"+roomID+"/history?before=4&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, uint64(3), page.Items[0].Cid)
	assert.Equal(t, uint64(2), page.Items[1].Cid)
}

func TestErrorTaxonomy(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)
	mallory := newSigner(t)

	roomID := createRoom(t, srv, alice, models.AttrPublicReadable)

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/rooms", "application/json", strings.NewReader("{nope"))
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "bad_envelope", errCode(t, body))
	})

	t.Run("payload room differs from path", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
			alice.sign(t, &models.ChatPayload{Room: "elsewhere", Text: "hi"}))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "bad_envelope", errCode(t, body))
	})

	t.Run("tampered signature", func(t *testing.T) {
		env := alice.sign(t, &models.ChatPayload{Room: roomID, Text: "hi"})
		env.Sig[0] ^= 0xff
		resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat", env)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_signature", errCode(t, body))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		env := alice.sign(t, &models.ChatPayload{Room: roomID, Text: "hi"})
		env.Signee.Timestamp = uint64(time.Now().Unix() - 3600)
		msg, err := env.SigneeBytes()
		require.NoError(t, err)
		env.Sig = models.HexBytes(ed25519.Sign(alice.priv, msg))
		resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat", env)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "stale_timestamp", errCode(t, body))
	})

	t.Run("nonce replay", func(t *testing.T) {
		env := alice.sign(t, &models.ChatPayload{Room: roomID, Text: "once"})
		resp, _ := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat", env)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat", env)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "nonce_reused", errCode(t, body))
	})

	t.Run("non-member forbidden", func(t *testing.T) {
		resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
			mallory.sign(t, &models.ChatPayload{Room: roomID, Text: "intruder"}))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "forbidden", errCode(t, body))
	})

	t.Run("unknown room", func(t *testing.T) {
		resp, body := getJSON(t, srv.URL+"/api/rooms/no-such-room/history", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "room_not_found", errCode(t, body))
	})
}

func TestPrivateRoomAccess(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)

	roomID := createRoom(t, srv, alice, 0)

	// Anonymous read is indistinguishable from a missing room.
	resp, body := getJSON(t, srv.URL+"/api/rooms/"+roomID+"/history", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "room_not_found", errCode(t, body))

	// Exchange an auth envelope for a ticket, then read with it.
	resp, body = postJSON(t, srv.URL+"/api/auth", alice.sign(t, &models.AuthPayload{Room: roomID}))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	var ticket types.AuthTokenResponse
	require.NoError(t, json.Unmarshal(body, &ticket))
	require.NotEmpty(t, ticket.Token)
	assert.Greater(t, ticket.ExpiresAt, time.Now().Unix())

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+ticket.Token)
	resp, body = getJSON(t, srv.URL+"/api/rooms/"+roomID+"/history", hdr)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	// An outsider's auth envelope is refused without confirming the room.
	mallory := newSigner(t)
	resp, body = postJSON(t, srv.URL+"/api/auth", mallory.sign(t, &models.AuthPayload{Room: roomID}))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "room_not_found", errCode(t, body))
}

func TestAddMemberEndpoint(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)
	bob := newSigner(t)

	roomID := createRoom(t, srv, alice, 0)

	resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
		bob.sign(t, &models.ChatPayload{Room: roomID, Text: "too early"}))
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "body: %s", body)

	env := alice.sign(t, &models.AddMemberPayload{
		Permission: models.PermPostChat,
		Room:       roomID,
		User:       bob.user,
	})
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	r, err := http.Post(srv.URL+"/api/rooms/"+roomID+"/admin", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusNoContent, r.StatusCode)

	resp, body = postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
		bob.sign(t, &models.ChatPayload{Room: roomID, Text: "invited now"}))
	assert.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
}

func TestListRoomsShowsOnlyPublic(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)

	public := createRoom(t, srv, alice, models.AttrPublicReadable)
	createRoom(t, srv, alice, 0)

	resp, body := getJSON(t, srv.URL+"/api/rooms", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed types.ListRoomsResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Rooms, 1)
	assert.Equal(t, public, listed.Rooms[0].Room)
}

func dialEvents(t *testing.T, srv *httptest.Server, roomID, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/rooms/" + roomID + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	// Give the handler a beat to finish registering the subscription.
	time.Sleep(100 * time.Millisecond)
	return conn
}

func TestEventStreamDeliversChat(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)

	roomID := createRoom(t, srv, alice, models.AttrPublicReadable)
	conn := dialEvents(t, srv, roomID, "")

	resp, body := postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
		alice.sign(t, &models.ChatPayload{Room: roomID, Text: "live"}))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame types.EventFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, types.EventChat, frame.Type)
	assert.Equal(t, uint64(1), frame.Item.Cid)
	assert.Equal(t, "live", frame.Item.Text)
	assert.Equal(t, alice.user, frame.Item.User)
}

func TestEventStreamPrivateRoom(t *testing.T) {
	srv := newTestServer(t)
	alice := newSigner(t)

	roomID := createRoom(t, srv, alice, 0)

	// Anonymous dial is refused before the upgrade.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/rooms/" + roomID + "/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// With a ticket in the query the same dial succeeds.
	r, body := postJSON(t, srv.URL+"/api/auth", alice.sign(t, &models.AuthPayload{Room: roomID}))
	require.Equal(t, http.StatusOK, r.StatusCode, "body: %s", body)
	var ticket types.AuthTokenResponse
	require.NoError(t, json.Unmarshal(body, &ticket))

	conn := dialEvents(t, srv, roomID, "?token="+ticket.Token)

	r, body = postJSON(t, srv.URL+"/api/rooms/"+roomID+"/chat",
		alice.sign(t, &models.ChatPayload{Room: roomID, Text: "members only"}))
	require.Equal(t, http.StatusOK, r.StatusCode, "body: %s", body)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame types.EventFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "members only", frame.Item.Text)
}
