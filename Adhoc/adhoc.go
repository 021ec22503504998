// Package adhoc announces this instance to a registration server.
package adhoc

import (
	"context"
	"fmt"
	"net"
	"time"

	"FoodDetServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id         string `json:"id"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	HTTPPort   int    `json:"httpPort"`
	Provenance string `json:"provenance"`
	Source     string `json:"source"`
	TimeStamp  int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// Instance describes what this process serves.
type Instance struct {
	IP         string
	RPCPort    int
	HTTPPort   int
	Provenance string
	Source     string
}

type Heartbeat struct {
	id       string
	url      string
	instance Instance
	interval time.Duration
	client   *resty.Client
}

// NewHeartbeat targets http://host:port/api/register.
func NewHeartbeat(host string, port int, inst Instance) *Heartbeat {
	return &Heartbeat{
		id:       uuid.NewString(),
		url:      fmt.Sprintf("http://%s/api/register", net.JoinHostPort(host, fmt.Sprint(port))),
		instance: inst,
		interval: TimeOutSeconds * time.Second,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *Heartbeat) ID() string { return h.id }

// Send posts one registration. Failures are returned for the caller to log.
func (h *Heartbeat) Send(ctx context.Context) error {
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(RegisterRequest{
			Id:         h.id,
			IP:         h.instance.IP,
			Port:       h.instance.RPCPort,
			HTTPPort:   h.instance.HTTPPort,
			Provenance: h.instance.Provenance,
			Source:     h.instance.Source,
			TimeStamp:  time.Now().Unix(),
		}).
		SetResult(&respBody).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}

// Run registers immediately and then on every tick until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.safeSend(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.safeSend(ctx)
		}
	}
}

func (h *Heartbeat) safeSend(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("heartbeat panic recovered", zap.Any("panic", r))
		}
	}()
	if err := h.Send(ctx); err != nil && ctx.Err() == nil {
		logger.Log().Warn("heartbeat failed", zap.String("url", h.url), zap.Error(err))
	}
}

// OutboundIP returns the local address used to reach the internet. No
// packet is sent.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
