//go:build integration

package instrument_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/pickscrape/internal/bridge"
	"github.com/adityalohuni/pickscrape/internal/browser"
	"github.com/adityalohuni/pickscrape/internal/browser/rodbrowser"
	"github.com/adityalohuni/pickscrape/internal/instrument"
	"github.com/adityalohuni/pickscrape/internal/protocol"
)

const fixture = `<html><body>
<h1 id="title">Title</h1>
<p class="a">Hello</p>
<p class="b">Hello</p>
<p id="styled" style="border: 1px dotted red">Styled</p>
<a id="empty" href="https://example.com/x"></a>
<a id="named" href="https://example.com/y">Named</a>
<img id="pic" src="https://example.com/p.png">
</body></html>`

type harness struct {
	page   browser.Page
	bridge *bridge.Bridge
}

func setup(t *testing.T) *harness {
	t.Helper()
	return setupPage(t, true)
}

func setupPage(t *testing.T, bind bool) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	b, err := rodbrowser.NewLauncher(nil).Launch(ctx, browser.LaunchOptions{Headless: true, NoSandbox: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	bctx, err := b.NewContext(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bctx.Close() })

	page, err := bctx.NewPage(ctx)
	require.NoError(t, err)

	br := bridge.New(nil)
	if bind {
		require.NoError(t, br.Bind(page))
	}
	require.NoError(t, page.Navigate(ctx, "data:text/html,"+url.PathEscape(fixture)))
	_, err = instrument.Install(ctx, page, instrument.Options{})
	require.NoError(t, err)
	return &harness{page: page, bridge: br}
}

func (h *harness) do(t *testing.T, js string) {
	t.Helper()
	require.NoError(t, h.page.Eval(context.Background(), "() => { "+js+"; return true }", nil))
}

func (h *harness) click(t *testing.T, selector string) {
	h.do(t, `document.querySelector("`+selector+`").click()`)
}

func (h *harness) key(t *testing.T, key string) {
	h.do(t, `document.dispatchEvent(new KeyboardEvent("keydown", {key: "`+key+`", bubbles: true}))`)
}

func (h *harness) wait(t *testing.T) protocol.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d, err := h.bridge.Wait(ctx)
	require.NoError(t, err)
	return d
}

func TestToggleIsNoop(t *testing.T) {
	h := setup(t)
	h.click(t, "#title")
	h.click(t, "#title")

	sel, err := instrument.Snapshot(context.Background(), h.page)
	require.NoError(t, err)
	assert.Empty(t, sel)

	h.key(t, "Enter")
	assert.Empty(t, h.wait(t).Elements)
}

func TestSameTagAndTextDeselects(t *testing.T) {
	h := setup(t)
	h.click(t, "p.a")
	h.click(t, "p.b")
	h.click(t, "p.a")

	h.key(t, "Enter")
	d := h.wait(t)
	require.Len(t, d.Elements, 1)
	assert.Equal(t, "Hello", d.Elements[0].Text)
	assert.Equal(t, "b", d.Elements[0].ClassName)
}

func TestEscapeDeliversEmpty(t *testing.T) {
	h := setup(t)
	h.click(t, "#title")
	h.click(t, "p.a")
	h.click(t, "#pic")

	h.key(t, "Escape")
	d := h.wait(t)
	assert.True(t, d.Cancelled())
	assert.Empty(t, d.Elements)
	assert.True(t, h.bridge.WaitAck(context.Background(), 5*time.Second))

	var marked int
	require.NoError(t, h.page.Eval(context.Background(),
		`() => document.querySelectorAll(".`+instrument.MarkerClass+`").length`, &marked))
	assert.Zero(t, marked)
}

func TestHoverAloneNeverSelects(t *testing.T) {
	h := setup(t)
	h.do(t, `document.querySelector("#title").dispatchEvent(new PointerEvent("pointerover", {bubbles: true}))`)

	h.key(t, "Enter")
	d := h.wait(t)
	assert.False(t, d.Cancelled())
	assert.Empty(t, d.Elements)
}

func TestHoverOutRestoresStyle(t *testing.T) {
	h := setup(t)
	h.do(t, `document.querySelector("#styled").dispatchEvent(new PointerEvent("pointerover", {bubbles: true}))`)
	h.do(t, `document.querySelector("#styled").dispatchEvent(new PointerEvent("pointerout", {bubbles: true}))`)

	var style string
	require.NoError(t, h.page.Eval(context.Background(),
		`() => document.querySelector("#styled").getAttribute("style")`, &style))
	assert.Equal(t, "border: 1px dotted red;", style)
}

func TestTextRules(t *testing.T) {
	h := setup(t)
	h.click(t, "#empty")
	h.click(t, "#named")
	h.click(t, "#pic")

	h.key(t, "Enter")
	d := h.wait(t)
	require.Len(t, d.Elements, 3)
	assert.Equal(t, "https://example.com/x", d.Elements[0].Text)
	assert.Equal(t, "Named", d.Elements[1].Text)
	assert.Equal(t, "https://example.com/p.png", d.Elements[2].Text)
	assert.Equal(t, "pic", d.Elements[2].Attributes["id"])
}

func TestReinstallKeepsSelections(t *testing.T) {
	h := setup(t)
	h.click(t, "#title")

	st, err := instrument.Install(context.Background(), h.page, instrument.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)

	// one click listener after reinstall: a second click toggles off
	h.click(t, "#title")
	sel, err := instrument.Snapshot(context.Background(), h.page)
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestCommitWithoutBindingWarns(t *testing.T) {
	h := setupPage(t, false)
	h.do(t, `window.__warns = []; console.warn = (...a) => window.__warns.push(a.join(" "))`)
	h.click(t, "#title")
	h.key(t, "Enter")

	var warns []string
	require.NoError(t, h.page.Eval(context.Background(), "() => window.__warns", &warns))
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], protocol.DeliverFunc)
}
