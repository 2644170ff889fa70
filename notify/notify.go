// Package notify delivers best-effort order confirmation emails. Dispatch is
// fire-and-forget: the checkout that triggered it has already committed, so
// failures here are logged and swallowed, never surfaced to the caller.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Order is the confirmed order as the dispatcher sees it: frozen prices only.
type Order struct {
	ID            int64
	Status        string
	CreatedAt     time.Time
	CustomerEmail string
	Lines         []Line
}

type Line struct {
	ProductName string
	ShopName    string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Dispatcher is the post-checkout side channel.
type Dispatcher interface {
	OrderConfirmed(o Order)
}

// EmailDispatcher sends plain-text confirmations to the customer and the
// platform admin over SMTP.
type EmailDispatcher struct {
	Addr       string // host:port
	From       string
	AdminEmail string
	Auth       smtp.Auth
	Log        *logrus.Logger

	// seam for tests
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

	wg sync.WaitGroup
}

func NewEmailDispatcher(addr, from, adminEmail string, auth smtp.Auth, log *logrus.Logger) *EmailDispatcher {
	return &EmailDispatcher{
		Addr:       addr,
		From:       from,
		AdminEmail: adminEmail,
		Auth:       auth,
		Log:        log,
		send:       smtp.SendMail,
	}
}

// OrderConfirmed queues delivery and returns immediately.
func (d *EmailDispatcher) OrderConfirmed(o Order) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(o)
	}()
}

// Wait blocks until all queued deliveries finished. Used on shutdown and in
// tests; callers on the checkout path never wait.
func (d *EmailDispatcher) Wait() { d.wg.Wait() }

func (d *EmailDispatcher) deliver(o Order) {
	if o.CustomerEmail != "" {
		subject := fmt.Sprintf("Order #%d accepted", o.ID)
		body := customerBody(o)
		if err := d.sendOne(o.CustomerEmail, subject, body); err != nil {
			d.Log.WithError(err).WithField("order_id", o.ID).Warn("customer email failed")
		}
	}
	if d.AdminEmail != "" {
		subject := fmt.Sprintf("New order #%d for execution", o.ID)
		body := adminBody(o)
		if err := d.sendOne(d.AdminEmail, subject, body); err != nil {
			d.Log.WithError(err).WithField("order_id", o.ID).Warn("admin email failed")
		}
	}
}

func (d *EmailDispatcher) sendOne(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", d.From, to, subject, body)
	return d.send(d.Addr, d.Auth, d.From, []string{to}, []byte(msg))
}

func orderLines(o Order) []string {
	lines := []string{
		fmt.Sprintf("Order ID: %d", o.ID),
		fmt.Sprintf("Status: %s", o.Status),
		fmt.Sprintf("Date: %s", o.CreatedAt.Format(time.RFC3339)),
		"",
		"Items:",
	}
	total := decimal.Zero
	for _, l := range o.Lines {
		lineTotal := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		total = total.Add(lineTotal)
		lines = append(lines, fmt.Sprintf("- %s | shop: %s | qty: %d | price: %s | total: %s",
			l.ProductName, l.ShopName, l.Quantity, l.UnitPrice.StringFixed(2), lineTotal.StringFixed(2)))
	}
	lines = append(lines, "", fmt.Sprintf("TOTAL: %s", total.StringFixed(2)))
	return lines
}

func customerBody(o Order) string {
	parts := append([]string{"Hello!", "", "Your order has been accepted.", ""}, orderLines(o)...)
	parts = append(parts, "", "Thank you!")
	return strings.Join(parts, "\n")
}

func adminBody(o Order) string {
	parts := append([]string{"New order created.", "", "Customer: " + o.CustomerEmail, ""}, orderLines(o)...)
	return strings.Join(parts, "\n")
}

// LogDispatcher is the fallback when SMTP is not configured: it only records
// that a confirmation would have been sent.
type LogDispatcher struct {
	Log *logrus.Logger
}

func (d *LogDispatcher) OrderConfirmed(o Order) {
	d.Log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"customer": o.CustomerEmail,
		"lines":    len(o.Lines),
	}).Info("order confirmed (email disabled)")
}
