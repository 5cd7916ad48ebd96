// Command orderwatch tails the push channel of the order API: the admin feed
// or a single order. When the channel gives up it polls the REST API until a
// reconnect succeeds.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
	"github.com/ariefcatur/go-resto-orders/internal/config"
	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/subscriber"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	api := pflag.String("api", "http://localhost:8081", "order API base url")
	orderID := pflag.String("order", "", "watch a single order instead of the admin feed")
	token := pflag.String("token", cfg.AdminStreamToken, "admin token")
	cooldown := pflag.Duration("cooldown", 2*cfg.ReconnectMax, "wait before retrying after reconnects are exhausted")
	pflag.Parse()

	if _, err := logging.Setup(cfg.LogLevel, "console", "orderwatch"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	join := broadcast.Join{Role: broadcast.TopicAdmin, Token: *token}
	pollPath := "/admin/orders?limit=20"
	if *orderID != "" {
		join = broadcast.Join{OrderID: *orderID}
		pollPath = "/orders/" + *orderID
	}

	base := strings.TrimRight(*api, "/")
	client := subscriber.New(
		&subscriber.WSDialer{URL: "ws" + strings.TrimPrefix(base, "http") + "/ws", PongWait: cfg.StreamPongWait},
		subscriber.Config{
			Join:        join,
			Base:        cfg.ReconnectBase,
			Max:         cfg.ReconnectMax,
			Factor:      cfg.ReconnectFactor,
			MaxAttempts: cfg.ReconnectAttempts,
		},
	)

	failed := make(chan struct{}, 1)
	client.On(broadcast.EventConnectionFailed, func(broadcast.Event) {
		select {
		case failed <- struct{}{}:
		default:
		}
	})
	for _, name := range []string{
		broadcast.EventConnected, broadcast.EventNewOrder, broadcast.EventOrderStatusUpdated,
		broadcast.EventLowStock, broadcast.EventOutOfStock,
	} {
		client.On(name, printEvent)
	}

	if err := client.Connect(ctx); err != nil {
		logging.Warn(ctx, "initial connect failed, retrying in background", zap.Error(err))
	}

	p := &poller{
		http:  &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		url:   base + pollPath,
		token: *token,
	}
	watch(ctx, client, p, failed, cfg.PollInterval, *cooldown)
	client.Disconnect()
}

// watch polls while the client is Failed and re-arms it after cooldown.
func watch(ctx context.Context, c *subscriber.Client, p *poller, failed <-chan struct{}, interval, cooldown time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var failedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-failed:
			failedAt = time.Now()
			logging.Warn(ctx, "push channel gave up, polling", zap.Duration("every", interval))
			p.poll(ctx)
		case <-tick.C:
			if failedAt.IsZero() || c.State() == subscriber.Connected {
				failedAt = time.Time{}
				continue
			}
			p.poll(ctx)
			if c.State() == subscriber.Failed && time.Since(failedAt) >= cooldown {
				c.ResetAttempts()
				if err := c.Connect(ctx); err != nil {
					logging.Warn(ctx, "reconnect after cooldown failed", zap.Error(err))
				}
			}
		}
	}
}

func printEvent(ev broadcast.Event) {
	b, _ := json.Marshal(ev)
	fmt.Println(string(b))
}

type poller struct {
	http  *http.Client
	url   string
	token string
}

func (p *poller) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	res, err := p.http.Do(req)
	if err != nil {
		logging.Warn(ctx, "poll failed", zap.Error(err))
		return
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		logging.Warn(ctx, "poll failed", zap.Int("status", res.StatusCode))
		return
	}
	fmt.Println(strings.TrimSpace(string(body)))
}
