package lnnode

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/internal/pspErr"
	"github.com/lndlease/publsp-go/pkg/logger"
)

// LND talks to an lnd node's REST listener using a TLS cert and macaroon,
// grounded on original_source/publsp/ln/lnd.py's LndNode.
type LND struct {
	httpClient  *http.Client
	baseURL     string
	macaroon    string // hex-encoded, used in the Grpc-Metadata-macaroon header
	macaroonRaw []byte
}

// Config is the connection info needed to reach an lnd REST listener.
type Config struct {
	RestHost         string
	CertFilePath     string
	MacaroonFilePath string
	ConnectTimeout   time.Duration
}

// NewLND validates TLS/macaroon material and checks connectivity before
// returning, mirroring lnd.py's constructor calling check_node_connection
// at startup and the teacher's NewClient pattern of a GetInfo probe before
// handing back a usable client.
func NewLND(ctx context.Context, cfg Config) (*LND, error) {
	certPEM, err := os.ReadFile(cfg.CertFilePath)
	if err != nil {
		return nil, fmt.Errorf("read lnd tls cert: %w", err)
	}
	macBytes, err := os.ReadFile(cfg.MacaroonFilePath)
	if err != nil {
		return nil, fmt.Errorf("read lnd macaroon: %w", err)
	}

	certPool := x509.NewCertPool()
	if ok := certPool.AppendCertsFromPEM(certPEM); !ok {
		return nil, fmt.Errorf("failed to parse lnd tls cert")
	}
	tlsConfig := &tls.Config{RootCAs: certPool}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	node := &LND{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		baseURL:     "https://" + cfg.RestHost,
		macaroon:    hex.EncodeToString(macBytes),
		macaroonRaw: macBytes,
	}

	status, err := node.CheckConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to lnd at %s: %w", cfg.RestHost, err)
	}
	if !status.Healthy {
		return nil, pspErr.New(pspErr.ConnectionError, "lnd node reports unhealthy at startup")
	}
	return node, nil
}

func (n *LND) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Grpc-Metadata-macaroon", n.macaroon)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, pspErr.Wrap(pspErr.ConnectionError, fmt.Sprintf("lnd request %s %s", method, path), err)
	}
	return resp, nil
}

func (n *LND) requestJSON(ctx context.Context, method, path string, body, target any) error {
	resp, err := n.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return pspErr.Newf(pspErr.NodeError, "lnd %s %s: status %d: %s", method, path, resp.StatusCode, errBody.Message)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode lnd response from %s: %w", path, err)
	}
	return nil
}

func (n *LND) CheckConnection(ctx context.Context) (NodeStatus, error) {
	var resp struct {
		SyncedToChain bool `json:"synced_to_chain"`
		SyncedToGraph bool `json:"synced_to_graph"`
	}
	if err := n.requestJSON(ctx, http.MethodGet, "/v1/getinfo", nil, &resp); err != nil {
		return NodeStatus{}, err
	}
	return NodeStatus{
		Healthy:       true,
		SyncedToChain: resp.SyncedToChain,
		SyncedToGraph: resp.SyncedToGraph,
	}, nil
}

func (n *LND) GetNodeID(ctx context.Context) (NodeID, error) {
	var resp struct {
		IdentityPubkey string `json:"identity_pubkey"`
		Alias          string `json:"alias"`
	}
	if err := n.requestJSON(ctx, http.MethodGet, "/v1/getinfo", nil, &resp); err != nil {
		return NodeID{}, err
	}
	return NodeID{Pubkey: resp.IdentityPubkey, Alias: resp.Alias}, nil
}

func (n *LND) GetNodeProperties(ctx context.Context) (NodeProperties, error) {
	var channels struct {
		Channels []struct {
			Capacity     string `json:"capacity"`
			LocalBalance string `json:"local_balance"`
		} `json:"channels"`
	}
	if err := n.requestJSON(ctx, http.MethodGet, "/v1/channels", nil, &channels); err != nil {
		return NodeProperties{}, err
	}

	var totalCapacity int64
	for _, c := range channels.Channels {
		chanCap, _ := strconv.ParseInt(c.Capacity, 10, 64)
		totalCapacity += chanCap
	}

	return NodeProperties{
		TotalCapacity: totalCapacity,
		NumChannels:   int64(len(channels.Channels)),
	}, nil
}

func (n *LND) ListUTXOs(ctx context.Context) ([]Utxo, error) {
	var resp struct {
		Utxos []struct {
			AddressType   string `json:"address_type"`
			AmountSat     string `json:"amount_sat"`
			Confirmations string `json:"confirmations"`
		} `json:"utxos"`
	}
	body := map[string]any{"min_confs": 0, "max_confs": 9999999}
	if err := n.requestJSON(ctx, http.MethodPost, "/v2/wallet/utxos", body, &resp); err != nil {
		return nil, err
	}

	out := make([]Utxo, 0, len(resp.Utxos))
	for _, u := range resp.Utxos {
		amt, _ := strconv.ParseInt(u.AmountSat, 10, 64)
		confs, _ := strconv.ParseInt(u.Confirmations, 10, 64)
		out = append(out, Utxo{AddressType: u.AddressType, AmountSat: amt, Confirmations: confs})
	}
	return out, nil
}

func (n *LND) EstimateChainFeeRate(ctx context.Context) (float64, error) {
	var resp struct {
		SatPerVbyte string `json:"sat_per_vbyte"`
	}
	if err := n.requestJSON(ctx, http.MethodGet, "/v2/wallet/bumpfee", nil, &resp); err != nil {
		return 0, err
	}
	rate, err := strconv.ParseFloat(resp.SatPerVbyte, 64)
	if err != nil {
		return 0, fmt.Errorf("parse fee rate: %w", err)
	}
	return rate, nil
}

func (n *LND) GetReserve(ctx context.Context) (int64, error) {
	var resp struct {
		RequiredReserve string `json:"required_reserve"`
	}
	if err := n.requestJSON(ctx, http.MethodGet, "/v1/balance/blockchain/reserve", nil, &resp); err != nil {
		return 0, err
	}
	reserve, err := strconv.ParseInt(resp.RequiredReserve, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse required reserve: %w", err)
	}
	return reserve, nil
}

func (n *LND) SignMessage(ctx context.Context, msg []byte) (string, error) {
	body := map[string]any{"msg": base64.StdEncoding.EncodeToString(msg)}
	var resp struct {
		Signature string `json:"signature"`
	}
	if err := n.requestJSON(ctx, http.MethodPost, "/v1/signmessage", body, &resp); err != nil {
		return "", pspErr.Wrap(pspErr.NodeError, "sign message", err)
	}
	return resp.Signature, nil
}

// GetBestBlock reports the chain tip height, used to stamp
// lease_start_block/lease_end_block in the lease log (§6).
func (n *LND) GetBestBlock(ctx context.Context) (int64, error) {
	var resp struct {
		BlockHeight int64 `json:"block_height"`
	}
	if err := n.requestJSON(ctx, http.MethodGet, "/v2/chainkit/bestblock", nil, &resp); err != nil {
		return 0, pspErr.Wrap(pspErr.NodeError, "get best block", err)
	}
	return resp.BlockHeight, nil
}

// permission is one (entity, action) pair lnd grants for a given RPC, as
// returned by ListPermissions.
type permission struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
}

// VerifyPermissions calls lnd's ListPermissions to learn which
// (entity, action) pairs each required URI needs, then calls
// CheckMacaroonPermissions to confirm the configured macaroon actually
// carries them. A missing or denied URI is fatal (§6).
func (n *LND) VerifyPermissions(ctx context.Context, requiredURIs []string) error {
	var listResp struct {
		MethodPermissions map[string]struct {
			Permissions []permission `json:"permissions"`
		} `json:"method_permissions"`
	}
	if err := n.requestJSON(ctx, http.MethodGet, "/v1/macaroon/permissions", nil, &listResp); err != nil {
		return pspErr.Wrap(pspErr.NodeError, "list macaroon permissions", err)
	}

	macaroonB64 := base64.StdEncoding.EncodeToString(n.macaroonRaw)
	for _, uri := range requiredURIs {
		granted, ok := listResp.MethodPermissions[uri]
		if !ok {
			return pspErr.Newf(pspErr.NodeError, "macaroon permission check: %s is not a known lnd RPC", uri)
		}

		body := map[string]any{
			"macaroon":    macaroonB64,
			"permissions": granted.Permissions,
			"fullMethod":  uri,
		}
		var checkResp struct {
			Valid bool `json:"valid"`
		}
		if err := n.requestJSON(ctx, http.MethodPost, "/v1/macaroon/checkpermissions", body, &checkResp); err != nil {
			return pspErr.Wrap(pspErr.NodeError, fmt.Sprintf("check macaroon permissions for %s", uri), err)
		}
		if !checkResp.Valid {
			return pspErr.Newf(pspErr.NodeError, "macaroon is missing required permission for %s", uri)
		}
	}
	return nil
}

func (n *LND) CreateHodlInvoice(ctx context.Context, paymentHashHex string, amtSat int64) (HodlInvoice, error) {
	hashBytes, err := hex.DecodeString(paymentHashHex)
	if err != nil {
		return HodlInvoice{}, fmt.Errorf("decode payment hash: %w", err)
	}
	body := map[string]any{
		"hash":  base64.StdEncoding.EncodeToString(hashBytes),
		"value": strconv.FormatInt(amtSat, 10),
	}
	var resp struct {
		PaymentRequest string `json:"payment_request"`
	}
	if err := n.requestJSON(ctx, http.MethodPost, "/v2/invoices/hodl", body, &resp); err != nil {
		return HodlInvoice{}, pspErr.Wrap(pspErr.InvoiceError, "create hodl invoice", err)
	}
	return HodlInvoice{PaymentRequest: resp.PaymentRequest, ExpirySecs: 3600}, nil
}

// SubscribeHodlInvoice streams newline-delimited JSON state updates from
// lnd's chunked REST subscription, translating each frame into an
// InvoiceUpdate on the returned channel. The channel closes when ctx is
// cancelled or the stream ends.
func (n *LND) SubscribeHodlInvoice(ctx context.Context, paymentHashHex string) (<-chan InvoiceUpdate, error) {
	hashBytes, err := hex.DecodeString(paymentHashHex)
	if err != nil {
		return nil, fmt.Errorf("decode payment hash: %w", err)
	}
	rHashStr := base64.URLEncoding.EncodeToString(hashBytes)

	resp, err := n.request(ctx, http.MethodGet, "/v2/invoices/subscribe/"+rHashStr, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, pspErr.Newf(pspErr.NodeError, "subscribe hodl invoice: status %d", resp.StatusCode)
	}

	out := make(chan InvoiceUpdate, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var frame struct {
				Result struct {
					State string `json:"state"`
				} `json:"result"`
			}
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := json.Unmarshal(line, &frame); err != nil {
				logger.Warn("failed to parse invoice subscription frame", zap.Error(err))
				continue
			}
			out <- InvoiceUpdate{State: frame.Result.State}
		}
	}()
	return out, nil
}

func (n *LND) SettleHodlInvoice(ctx context.Context, preimageHex string) error {
	preimageBytes, err := hex.DecodeString(preimageHex)
	if err != nil {
		return fmt.Errorf("decode preimage: %w", err)
	}
	body := map[string]any{"preimage": base64.StdEncoding.EncodeToString(preimageBytes)}
	if err := n.requestJSON(ctx, http.MethodPost, "/v2/invoices/settle", body, nil); err != nil {
		return pspErr.Wrap(pspErr.InvoiceError, "settle hodl invoice", err)
	}
	return nil
}

func (n *LND) CancelHodlInvoice(ctx context.Context, paymentHashHex string) error {
	hashBytes, err := hex.DecodeString(paymentHashHex)
	if err != nil {
		return fmt.Errorf("decode payment hash: %w", err)
	}
	body := map[string]any{"payment_hash": base64.StdEncoding.EncodeToString(hashBytes)}
	if err := n.requestJSON(ctx, http.MethodPost, "/v2/invoices/cancel", body, nil); err != nil {
		return pspErr.Wrap(pspErr.InvoiceError, "cancel hodl invoice", err)
	}
	return nil
}

func (n *LND) ConnectPeer(ctx context.Context, pubkeyURI string) error {
	pubkey, host, err := splitPubkeyURI(pubkeyURI)
	if err != nil {
		return err
	}
	body := map[string]any{
		"addr": map[string]string{"pubkey": pubkey, "host": host},
		"perm": false,
	}
	if err := n.requestJSON(ctx, http.MethodPost, "/v1/peers", body, nil); err != nil {
		return pspErr.Wrap(pspErr.ConnectionError, fmt.Sprintf("connect peer %s", pubkeyURI), err)
	}
	return nil
}

func (n *LND) OpenChannel(ctx context.Context, req OpenChannelRequest) (<-chan ChannelUpdate, error) {
	body := map[string]any{
		"node_pubkey_string":  req.PeerPubkeyHex,
		"local_funding_amount": strconv.FormatInt(req.LocalAmountSat, 10),
		"push_sat":             strconv.FormatInt(req.PushAmountSat, 10),
		"min_confs":            req.MinConfs,
		"spend_unconfirmed":    req.SpendUnconfirmed,
		"private":              req.Private,
	}

	resp, err := n.request(ctx, http.MethodPost, "/v1/channels/stream", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, pspErr.Newf(pspErr.NodeError, "open channel: status %d", resp.StatusCode)
	}

	out := make(chan ChannelUpdate, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var frame struct {
				Result struct {
					ChanPending *struct {
						Txid        string `json:"txid"`
						OutputIndex int    `json:"output_index"`
					} `json:"chan_pending"`
					ChanOpen *struct {
						ChannelPoint string `json:"channel_point"`
					} `json:"chan_open"`
				} `json:"result"`
			}
			if err := json.Unmarshal(line, &frame); err != nil {
				logger.Warn("failed to parse channel open frame", zap.Error(err))
				continue
			}

			switch {
			case frame.Result.ChanPending != nil:
				out <- ChannelUpdate{
					State:           "PENDING",
					FundingTxidHex:  frame.Result.ChanPending.Txid,
					FundingOutIndex: frame.Result.ChanPending.OutputIndex,
				}
			case frame.Result.ChanOpen != nil:
				out <- ChannelUpdate{State: "OPEN"}
			}
		}
	}()
	return out, nil
}

func (n *LND) Close() error {
	n.httpClient.CloseIdleConnections()
	return nil
}

// splitPubkeyURI splits a "pubkey@host:port" peer URI into its parts.
func splitPubkeyURI(uri string) (pubkey, host string, err error) {
	for i := 0; i < len(uri); i++ {
		if uri[i] == '@' {
			return uri[:i], uri[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid pubkey@host URI: %s", uri)
}
