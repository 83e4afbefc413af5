package cdp

import (
	"strings"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/apicapture/internal/types"
)

// pickActive returns the first page target whose URL contains filter.
// Chromium lists targets most recently activated first.
func pickActive(targets []*target.Info, filter string) (types.TargetInfo, bool) {
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if filter != "" && !strings.Contains(t.URL, filter) {
			continue
		}
		return types.TargetInfo{
			TargetID: string(t.TargetID),
			URL:      t.URL,
			Title:    t.Title,
		}, true
	}
	return types.TargetInfo{}, false
}
