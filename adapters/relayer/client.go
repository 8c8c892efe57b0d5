package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 64 << 20

// Client talks to the relayer REST API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a relayer client for baseURL
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type keyRef struct {
	DataID string   `json:"data_id"`
	URLs   []string `json:"urls"`
}

type keyURLResponse struct {
	Response struct {
		FHEKeyInfo []struct {
			FHEPublicKey keyRef `json:"fhe_public_key"`
		} `json:"fhe_key_info"`
		CRS map[string]keyRef `json:"crs"`
	} `json:"response"`
}

// KeyMaterial is the network public key and the CRS used for input proofs
type KeyMaterial struct {
	PublicKeyID string
	PublicKey   []byte
	CRSID       string
	CRS         []byte
}

// crsBits is the CRS size matching the input bit limit
const crsBits = "2048"

// FetchKeyMaterial resolves /v1/keyurl and downloads the referenced key and CRS
func (c *Client) FetchKeyMaterial(ctx context.Context) (*KeyMaterial, error) {
	var res keyURLResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keyurl", nil, &res); err != nil {
		return nil, err
	}
	if len(res.Response.FHEKeyInfo) == 0 || len(res.Response.FHEKeyInfo[0].FHEPublicKey.URLs) == 0 {
		return nil, fmt.Errorf("relayer returned no public key")
	}
	crs, ok := res.Response.CRS[crsBits]
	if !ok || len(crs.URLs) == 0 {
		return nil, fmt.Errorf("relayer returned no %s bit CRS", crsBits)
	}

	pkRef := res.Response.FHEKeyInfo[0].FHEPublicKey
	pk, err := c.download(ctx, pkRef.URLs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to download public key: %w", err)
	}
	crsBytes, err := c.download(ctx, crs.URLs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to download CRS: %w", err)
	}

	return &KeyMaterial{
		PublicKeyID: pkRef.DataID,
		PublicKey:   pk,
		CRSID:       crs.DataID,
		CRS:         crsBytes,
	}, nil
}

type inputProofRequest struct {
	ContractAddress                 string `json:"contractAddress"`
	UserAddress                     string `json:"userAddress"`
	CiphertextWithInputVerification string `json:"ciphertextWithInputVerification"`
	ContractChainID                 string `json:"contractChainId"`
	ExtraData                       string `json:"extraData"`
}

type inputProofResponse struct {
	Response struct {
		Handles    []string `json:"handles"`
		Signatures []string `json:"signatures"`
	} `json:"response"`
}

// InputProof submits a compact ciphertext list and returns the handles and coprocessor signatures
func (c *Client) InputProof(ctx context.Context, req inputProofRequest) (*inputProofResponse, error) {
	var res inputProofResponse
	if err := c.do(ctx, http.MethodPost, "/v1/input-proof", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type handleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

type requestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type userDecryptRequest struct {
	HandleContractPairs []handleContractPair `json:"handleContractPairs"`
	RequestValidity     requestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
	ExtraData           string               `json:"extraData"`
}

type decryptShare struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type userDecryptResponse struct {
	Response []decryptShare `json:"response"`
}

// UserDecrypt requests KMS shares re-encrypted under the user's public key
func (c *Client) UserDecrypt(ctx context.Context, req userDecryptRequest) (*userDecryptResponse, error) {
	var res userDecryptResponse
	if err := c.do(ctx, http.MethodPost, "/v1/user-decrypt", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relayer %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read relayer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relayer %s %s: status %d: %s", method, path, resp.StatusCode, truncate(raw, 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode relayer response: %w", err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
