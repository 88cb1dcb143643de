// Package email sends transactional mail through the SendGrid v3 API.
// Sends are fire-and-forget from the caller's point of view: handlers log
// failures but never fail a request because mail did not go out.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const sendURL = "https://api.sendgrid.com/v3/mail/send"

type Client struct {
	apiKey     string
	fromEmail  string
	baseURL    string
	apiURL     string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(apiKey, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		baseURL:    baseURL,
		apiURL:     sendURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To      []sendGridAddress `json:"to"`
	Subject string            `json:"subject"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMessage struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Content          []sendGridContent         `json:"content"`
}

// OrderConfirmation covers the fields the order and payment emails render.
type OrderConfirmation struct {
	OrderID       string
	CustomerName  string
	ProductName   string
	Plan          string
	Amount        float64
	AccountNumber int64
}

// SendOrderConfirmation acknowledges a newly placed, not yet paid order.
func (c *Client) SendOrderConfirmation(toEmail string, o OrderConfirmation) error {
	subject := fmt.Sprintf("Order %s received", o.OrderID)
	text := fmt.Sprintf(
		"Hi %s,\n\nWe received your order %s for %s (%s plan, $%.2f) on account %d.\n"+
			"You will get your license details as soon as payment completes.\n",
		o.CustomerName, o.OrderID, o.ProductName, o.Plan, o.Amount, o.AccountNumber,
	)
	return c.send(toEmail, subject, text)
}

// SendPaymentSuccess delivers the license key and download link after a
// completed payment.
func (c *Client) SendPaymentSuccess(toEmail string, o OrderConfirmation, licenseKey, downloadToken string) error {
	subject := fmt.Sprintf("Payment received for order %s", o.OrderID)
	text := fmt.Sprintf(
		"Hi %s,\n\nYour payment for order %s is complete.\n",
		o.CustomerName, o.OrderID,
	)
	if licenseKey != "" {
		text += fmt.Sprintf("\nYour license key: %s\n", licenseKey)
	}
	if downloadToken != "" {
		text += fmt.Sprintf(
			"\nDownload your files (link valid 24 hours):\n%s/download/%s?file=ea\n%s/download/%s?file=manual\n",
			c.baseURL, downloadToken, c.baseURL, downloadToken,
		)
	}
	return c.send(toEmail, subject, text)
}

// SendNewOrderAlert notifies the admin address of a newly placed order.
func (c *Client) SendNewOrderAlert(adminEmail string, o OrderConfirmation, customerEmail string) error {
	subject := fmt.Sprintf("New order %s", o.OrderID)
	text := fmt.Sprintf(
		"Order %s\nCustomer: %s <%s>\nAccount: %d\nPlan: %s\nAmount: $%.2f\n",
		o.OrderID, o.CustomerName, customerEmail, o.AccountNumber, o.Plan, o.Amount,
	)
	return c.send(adminEmail, subject, text)
}

// SendExpiryWarning warns a user their subscription ends soon.
func (c *Client) SendExpiryWarning(toEmail string, daysLeft int, expiresAt time.Time) error {
	subject := fmt.Sprintf("Your license expires in %d days", daysLeft)
	text := fmt.Sprintf(
		"Your license expires on %s. Renew to keep trading without interruption.\n",
		expiresAt.Format("Jan 2, 2006"),
	)
	return c.send(toEmail, subject, text)
}

func (c *Client) send(toEmail, subject, textBody string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing API key")
	}

	msg := sendGridMessage{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: toEmail}}, Subject: subject},
		},
		From:    sendGridAddress{Email: c.fromEmail},
		Content: []sendGridContent{{Type: "text/plain", Value: textBody}},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// SendGrid has brief 5xx blips; retry those, not client errors.
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("send email: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("sendgrid API error: status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("sendgrid API error: status %d", resp.StatusCode)
		}
		return nil
	})
}
