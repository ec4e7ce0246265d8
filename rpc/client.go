package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/orcastor/vdisk/core"
	"github.com/orcastor/vdisk/rpc/middleware"
	"github.com/orcastor/vdisk/rpc/util"
)

// PoolClient is a core.ChunkPool backed by a remote PoolServer.
type PoolClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewPoolClient(baseURL, secret string) *PoolClient {
	return &PoolClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (pc *PoolClient) chunkURL(image string, idx uint64) string {
	return pc.baseURL + "/api/chunks/" + url.PathEscape(image) + "/" + strconv.FormatUint(idx, 10)
}

func (pc *PoolClient) do(c core.Ctx, method, u, image string, body []byte, hdr http.Header) (*http.Response, error) {
	if !core.ValidImageName(image) {
		return nil, fmt.Errorf("%w: %q", core.ERR_INVALID_IMAGE, image)
	}
	req, err := http.NewRequestWithContext(c, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	token, _, err := middleware.GenerateToken(pc.secret, image)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)
	return pc.client.Do(req)
}

func decodeError(resp *http.Response) error {
	var env envelope
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &env) != nil || env.Msg == "" {
		env.Msg = resp.Status
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.ERR_CHUNK_NOT_FOUND
	case env.Code == util.CODE_CHECKSUM:
		return fmt.Errorf("%w: %s", core.ERR_CHECKSUM, env.Msg)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", core.ERR_AUTH_FAILED, env.Msg)
	}
	return fmt.Errorf("pool: %s (code %d)", env.Msg, env.Code)
}

func (pc *PoolClient) PutChunk(c core.Ctx, image string, idx uint64, data []byte) error {
	frame, err := core.EncodeChunk(data)
	if err != nil {
		return err
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/zstd")
	hdr.Set(HDR_CHECKSUM, strconv.FormatUint(core.FrameChecksum(frame), 16))

	resp, err := pc.do(c, http.MethodPut, pc.chunkURL(image, idx), image, core.FramePayload(frame), hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func (pc *PoolClient) GetChunk(c core.Ctx, image string, idx uint64) ([]byte, error) {
	resp, err := pc.do(c, http.MethodGet, pc.chunkURL(image, idx), image, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	sum, err := strconv.ParseUint(resp.Header.Get(HDR_CHECKSUM), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: missing %s", core.ERR_CHECKSUM, HDR_CHECKSUM)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return core.DecodeChunk(core.NewFrame(sum, payload))
}

// List returns what the pool holds for image, ordered by chunk index.
func (pc *PoolClient) List(c core.Ctx, image string) ([]*core.ChunkRecord, error) {
	resp, err := pc.do(c, http.MethodGet, pc.baseURL+"/api/images/"+url.PathEscape(image), image, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("pool: %s (code %d)", env.Msg, env.Code)
	}
	var data struct {
		Chunks []*core.ChunkRecord `json:"chunks"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, err
	}
	return data.Chunks, nil
}
