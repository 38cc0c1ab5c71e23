package cdp

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// EnableDomains turns on the DOM and Runtime domains the extractor needs.
func (c *Conn) EnableDomains(ctx context.Context) error {
	for _, method := range []string{dom.CommandEnable, runtime.CommandEnable} {
		if err := c.Call(ctx, method, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs expr in the page and returns its value as raw JSON. Script
// exceptions and undefined results are errors.
func (c *Conn) Evaluate(ctx context.Context, expr string) ([]byte, error) {
	params := runtime.Evaluate(expr).WithReturnByValue(true).WithAwaitPromise(true)
	var ret runtime.EvaluateReturns
	if err := c.Call(ctx, runtime.CommandEvaluate, params, &ret); err != nil {
		return nil, err
	}
	if ret.ExceptionDetails != nil {
		msg := ret.ExceptionDetails.Text
		if ex := ret.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			msg += ": " + ex.Description
		}
		return nil, apperr.Newf(apperr.CodeProtocol, "script exception: %s", strings.TrimSpace(msg))
	}
	if ret.Result == nil || ret.Result.Type == runtime.TypeUndefined || len(ret.Result.Value) == 0 {
		return nil, apperr.New(apperr.CodeInvalidPayload, "script returned no value")
	}
	return []byte(ret.Result.Value), nil
}

// CaptureScreenshot grabs the visible viewport as PNG bytes.
func (c *Conn) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	params := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
	var ret page.CaptureScreenshotReturns
	if err := c.Call(ctx, page.CommandCaptureScreenshot, params, &ret); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(ret.Data)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidPayload, "decode screenshot")
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.CodeInvalidPayload, "empty screenshot")
	}
	return data, nil
}
