// internal/tools/browser_tools.go
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/markdown"
	"go.uber.org/zap"
)

// settleTimeout bounds the network-idle wait some tools perform after acting.
const settleTimeout = 5 * time.Second

// errScrollDirection reaches the model as the step response.
var errScrollDirection = errors.New("Invalid scroll direction. Use 'up' or 'down'.")

// browserFunc is the body of a tool that drives the page.
type browserFunc func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error)

// browserTool implements Tool for the simple page actions.
type browserTool struct {
	name        string
	description string
	args        []ArgSpec
	run         browserFunc
}

func (t *browserTool) Name() string        { return t.name }
func (t *browserTool) Description() string { return t.description }
func (t *browserTool) Schema() []ArgSpec   { return t.args }

func (t *browserTool) Execute(ctx context.Context, env *Env, args Args) (interface{}, error) {
	b, err := env.browser()
	if err != nil {
		return nil, err
	}
	return t.run(ctx, env, b, args)
}

// settle waits for the network to quiet down. A timeout is not an error for the caller.
func settle(ctx context.Context, env *Env, b schemas.BrowserDriver) {
	if err := b.WaitNetworkIdle(ctx, settleTimeout); err != nil {
		env.logger().Debug("Network did not go idle.", zap.Error(err))
	}
}

// BrowserTools returns the page action tools in catalog order.
func BrowserTools() []Tool {
	return []Tool{
		ClickElement(),
		ClickAndTypeText(),
		InjectCode(),
		PressKey(),
		Navigate(),
		ScrollSite(),
		Wait(),
		GetHTML(),
		GetMarkdown(),
	}
}

// ClickElement clicks by xpath, or at the coordinates when no xpath is given.
func ClickElement() Tool {
	return &browserTool{
		name:        "click_element",
		description: "Clicks an element on the page using its coordinates (x and y). Must provide the X and Y coordinates along with the Xpath.",
		args: []ArgSpec{
			{Name: "xpath", Type: ArgString, Required: true, Description: "XPath of the element to click."},
			{Name: "x", Type: ArgFloat, Required: true, Description: "X coordinate to click at."},
			{Name: "y", Type: ArgFloat, Required: true, Description: "Y coordinate to click at."},
		},
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			xpath := strings.TrimSpace(args.String("xpath"))
			if xpath == "" {
				x, _ := args.Float("x")
				y, _ := args.Float("y")
				if err := b.ClickAt(ctx, x, y); err != nil {
					return nil, fmt.Errorf("failed to click at (%v, %v): %w", x, y, err)
				}
				return fmt.Sprintf("Successfully clicked at coordinates (%v, %v)", x, y), nil
			}
			if err := b.ClickXPath(ctx, xpath, 0); err != nil {
				return nil, fmt.Errorf("failed to click element: %w", err)
			}
			return "Successfully clicked at element with xpath: " + xpath, nil
		},
	}
}

// ClickAndTypeText replaces the content of an input with the given text.
func ClickAndTypeText() Tool {
	return &browserTool{
		name:        "click_and_type_text",
		description: "Clicks on an element using its XPath or coordinates and types text into it.",
		args: []ArgSpec{
			{Name: "xpath", Type: ArgString, Required: true, Description: "XPath of the element to click."},
			{Name: "text", Type: ArgString, Required: true, Description: "The text to type into the element."},
			{Name: "x", Type: ArgFloat, Required: true, Description: "The x coordinate to click before typing."},
			{Name: "y", Type: ArgFloat, Required: true, Description: "The y coordinate to click before typing."},
		},
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			xpath := strings.TrimSpace(args.String("xpath"))
			text := args.String("text")
			if xpath == "" {
				x, _ := args.Float("x")
				y, _ := args.Float("y")
				if err := b.ClickAt(ctx, x, y); err != nil {
					return nil, fmt.Errorf("failed to click and type text into element: %w", err)
				}
				for _, r := range text {
					if err := b.PressKey(ctx, string(r)); err != nil {
						return nil, fmt.Errorf("failed to click and type text into element: %w", err)
					}
				}
				return fmt.Sprintf("Successfully clicked at coordinates (%v, %v) and typed text", x, y), nil
			}
			if err := b.TypeXPath(ctx, xpath, text); err != nil {
				return nil, fmt.Errorf("failed to click and type text into element: %w", err)
			}
			return "Successfully clicked and typed text into element with xpath: " + xpath, nil
		},
	}
}

// InjectCode evaluates a script in the page.
func InjectCode() Tool {
	return &browserTool{
		name:        "inject_code",
		description: "Injects code into the page.",
		args: []ArgSpec{
			{Name: "code", Type: ArgString, Required: true, Description: "The code to inject into the page."},
		},
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			var res interface{}
			if err := b.Evaluate(ctx, args.String("code"), &res); err != nil {
				return nil, fmt.Errorf("failed to inject code: %w", err)
			}
			return "Code injected and gave this response\n: " + renderValue(res), nil
		},
	}
}

func renderValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	out, err := canonicalJSON.MarshalToString(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// PressKey sends a key or chord to the focused element.
func PressKey() Tool {
	return &browserTool{
		name:        "press_key",
		description: "Presses a specific key on the keyboard. Useful for submitting forms with 'Enter', navigating menus, or triggering keyboard shortcuts.",
		args: []ArgSpec{
			{Name: "key", Type: ArgString, Required: true, Description: "The key to press. For example 'Enter', 'Tab', 'ArrowDown', 'a', 'b', 'Control+A'."},
		},
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			key := args.String("key")
			if key == "" {
				return nil, errors.New("key must not be empty")
			}
			if err := b.PressKey(ctx, key); err != nil {
				return nil, fmt.Errorf("failed to press key '%s': %w", key, err)
			}
			settle(ctx, env, b)
			return fmt.Sprintf("Successfully pressed the '%s' key.", key), nil
		},
	}
}

// Navigate loads a URL.
func Navigate() Tool {
	return &browserTool{
		name:        "navigate",
		description: "Navigates to a specific URL and waits for the page to load.",
		args: []ArgSpec{
			{Name: "url", Type: ArgString, Required: true, Description: "The URL to navigate to."},
			{Name: "timeout", Type: ArgInt, Default: 30000, Description: "Timeout for the navigation in milliseconds. Defaults to 30000 (30 seconds)."},
		},
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			url := strings.TrimSpace(args.String("url"))
			if url == "" {
				return nil, errors.New("url must not be empty")
			}
			timeout := time.Duration(args.Int("timeout")) * time.Millisecond
			if err := b.Navigate(ctx, url, timeout); err != nil {
				return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
			}
			settle(ctx, env, b)
			return fmt.Sprintf("Successfully navigated to %s.", url), nil
		},
	}
}

// ScrollSite scrolls the viewport vertically.
func ScrollSite() Tool {
	return &browserTool{
		name:        "scroll_site",
		description: "Scrolls the page to the bottom and waits for the page to load.",
		args: []ArgSpec{
			{Name: "distance", Type: ArgFloat, Default: 400.0, Description: "Distance to scroll in pixels. Defaults to 400."},
			{Name: "direction", Type: ArgString, Default: "down", Description: "Direction of the scroll. Can be 'up' or 'down'. Defaults to 'down'."},
			{Name: "timeout", Type: ArgInt, Description: "Extra time to wait after scrolling, in milliseconds."},
		},
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			distance, _ := args.Float("distance")
			direction := strings.ToLower(strings.TrimSpace(args.String("direction")))
			var dy float64
			switch direction {
			case "down":
				dy = distance
			case "up":
				dy = -distance
			default:
				return nil, errScrollDirection
			}
			if err := b.Scroll(ctx, 0, dy); err != nil {
				return nil, fmt.Errorf("failed to scroll: %w", err)
			}
			settle(ctx, env, b)
			if ms := args.Int("timeout"); ms > 0 {
				if err := env.sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
					return nil, err
				}
			}
			return fmt.Sprintf("Page scrolled %s by %v pixels.", direction, distance), nil
		},
	}
}

// Wait pauses the run.
func Wait() Tool {
	return &browserTool{
		name:        "wait",
		description: "Waits for a specified amount of time in seconds or wait for network idle",
		args: []ArgSpec{
			{Name: "timeout", Type: ArgInt, Default: 5, Description: "Timeout in seconds (default: 5)"},
		},
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			if err := env.sleep(ctx, time.Duration(args.Int("timeout"))*time.Second); err != nil {
				return nil, err
			}
			return "Waited for quite some time.", nil
		},
	}
}

// GetHTML returns the cleaned body HTML.
func GetHTML() Tool {
	return &browserTool{
		name:        "get_html",
		description: "Returns a cleaned and simplified version of the page's HTML content, optimized for an LLM.",
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			body, err := b.BodyHTML(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to get HTML: %w", err)
			}
			cleaned, err := markdown.CleanHTML(body)
			if err != nil {
				return nil, fmt.Errorf("failed to clean HTML: %w", err)
			}
			return cleaned, nil
		},
	}
}

// GetMarkdown returns the body converted to markdown.
func GetMarkdown() Tool {
	return &browserTool{
		name:        "get_markdown",
		description: "Returns the Markdown content of the page.",
		run: func(ctx context.Context, env *Env, b schemas.BrowserDriver, args Args) (interface{}, error) {
			body, err := b.BodyHTML(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to get Markdown: %w", err)
			}
			md, err := markdown.Convert(body)
			if err != nil {
				return nil, fmt.Errorf("failed to get Markdown: %w", err)
			}
			return md, nil
		},
	}
}
