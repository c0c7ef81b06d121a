// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package telegram is the hunt's notification channel: status pushes
// out to an operator chat, and a long-polling listener for the small
// command set operators can send back. Channel failures are logged
// and dropped; notifications never affect the hunt itself.
package telegram

import (
	"context"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/httprequest.v1"
)

var logger = loggo.GetLogger("magpie.telegram")

const (
	defaultBaseURL = "https://api.telegram.org"

	// pushTimeout bounds an outbound sendMessage call.
	pushTimeout = 10 * time.Second
)

// Sink pushes formatted status messages to one chat.
type Sink struct {
	client *httprequest.Client
	chatId string
}

// NewSink returns a Sink for the given bot token and chat. baseURL
// and doer override the Bot API endpoint and transport, for tests;
// both may be zero valued.
func NewSink(token, chatId, baseURL string, doer httprequest.Doer) (*Sink, error) {
	if token == "" {
		return nil, errors.NotValidf("empty bot token")
	}
	if chatId == "" {
		return nil, errors.NotValidf("empty chat id")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Sink{
		client: &httprequest.Client{
			BaseURL: baseURL + "/bot" + token,
			Doer:    doer,
		},
		chatId: chatId,
	}, nil
}

type sendMessageRequest struct {
	httprequest.Route `httprequest:"POST /sendMessage"`
	Body              sendMessageBody `httprequest:",body"`
}

type sendMessageBody struct {
	ChatId    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Push sends one message, best effort. Failures are logged and
// swallowed: a broken notification channel must never stall or fail
// the hunt.
func (s *Sink) Push(text string) {
	if err := s.send(text); err != nil {
		logger.Errorf("cannot push notification: %v", err)
	}
}

func (s *Sink) send(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	req := &sendMessageRequest{
		Body: sendMessageBody{
			ChatId: s.chatId,
			Text:   text,
		},
	}
	return errors.Trace(s.client.Call(ctx, req, nil))
}

type getUpdatesRequest struct {
	httprequest.Route `httprequest:"GET /getUpdates"`
	Offset            int64 `httprequest:"offset,form"`
	Timeout           int   `httprequest:"timeout,form"`
}

type getUpdatesResponse struct {
	Ok     bool     `json:"ok"`
	Result []Update `json:"result"`
}

// Update is one inbound Bot API update.
type Update struct {
	UpdateId int64 `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			Id int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// getUpdates long-polls for updates past offset.
func (s *Sink) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	req := &getUpdatesRequest{
		Offset:  offset,
		Timeout: int(timeout.Seconds()),
	}
	var resp getUpdatesResponse
	if err := s.client.Call(ctx, req, &resp); err != nil {
		return nil, errors.Trace(err)
	}
	if !resp.Ok {
		return nil, errors.New("bot API reported not ok")
	}
	return resp.Result, nil
}
