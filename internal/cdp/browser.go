// Package cdp renders through a Chrome tab driven over the DevTools
// protocol. Document requests are paused and gated before Chrome may load
// or display them.
package cdp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/rpcc"
)

// browser is the subset of the DevTools API a Tab drives.
type browser interface {
	Continue(ctx context.Context, id fetch.RequestID) error
	Fail(ctx context.Context, id fetch.RequestID, reason network.ErrorReason) error
	Fulfill(ctx context.Context, id fetch.RequestID, status int, headers []fetch.HeaderEntry, body []byte) error
	ResponseBody(ctx context.Context, id fetch.RequestID) ([]byte, error)
	Navigate(ctx context.Context, url string) error
}

type cdpBrowser struct {
	client *cdp.Client
}

func (b *cdpBrowser) Continue(ctx context.Context, id fetch.RequestID) error {
	return b.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: id})
}

func (b *cdpBrowser) Fail(ctx context.Context, id fetch.RequestID, reason network.ErrorReason) error {
	return b.client.Fetch.FailRequest(ctx, &fetch.FailRequestArgs{RequestID: id, ErrorReason: reason})
}

func (b *cdpBrowser) Fulfill(ctx context.Context, id fetch.RequestID, status int, headers []fetch.HeaderEntry, body []byte) error {
	return b.client.Fetch.FulfillRequest(ctx, &fetch.FulfillRequestArgs{
		RequestID:       id,
		ResponseCode:    status,
		ResponseHeaders: headers,
		Body:            body,
	})
}

func (b *cdpBrowser) ResponseBody(ctx context.Context, id fetch.RequestID) ([]byte, error) {
	reply, err := b.client.Fetch.GetResponseBody(ctx, fetch.NewGetResponseBodyArgs(id))
	if err != nil {
		return nil, err
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}

func (b *cdpBrowser) Navigate(ctx context.Context, url string) error {
	_, err := b.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	return err
}

// connection is an attached page target.
type connection struct {
	conn      *rpcc.Conn
	client    *cdp.Client
	mainFrame page.FrameID
}

// dial attaches to the first page target at devtoolsURL and enables
// interception of Document requests at both stages.
func dial(ctx context.Context, devtoolsURL string) (*connection, error) {
	dt := devtool.New(devtoolsURL)
	target, err := dt.Get(ctx, devtool.Page)
	if err != nil {
		target, err = dt.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("find page target: %w", err)
		}
	}

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial devtools: %w", err)
	}
	client := cdp.NewClient(conn)

	if err := client.Page.Enable(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable page domain: %w", err)
	}
	tree, err := client.Page.GetFrameTree(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("get frame tree: %w", err)
	}

	p := "*"
	doc := network.ResourceTypeDocument
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, ResourceType: &doc, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, ResourceType: &doc, RequestStage: fetch.RequestStageResponse},
	}
	if err := client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable fetch interception: %w", err)
	}

	return &connection{conn: conn, client: client, mainFrame: tree.FrameTree.Frame.ID}, nil
}
