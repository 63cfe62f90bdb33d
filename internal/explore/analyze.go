// Package explore implements autonomous app exploration: launch an app,
// walk its screens breadth-first by clicking discovered elements, and feed
// everything found into the knowledge base.
package explore

import (
	"fmt"
	"strings"
	"time"

	"appscout/internal/protocol"
)

// Signature extraction limits. The signature must be stable for the same
// screen yet cheap, so only the top of the tree participates.
const (
	signatureTextDepth     = 3
	signatureTextChildren  = 5
	signatureClassDepth    = 2
	signatureClassChildren = 3
	signatureTextCount     = 3
	signatureMaxLen        = 30
)

// ScreenSignature derives a stable identifier fragment for a screen from
// its UI tree: the first few non-trivial texts near the root, or class name
// suffixes when the screen has no text at all.
func ScreenSignature(root *protocol.UINode) string {
	if root == nil {
		return "empty"
	}

	var texts []string
	collectTexts(root, 0, &texts)

	if len(texts) == 0 {
		collectClassNames(root, 0, &texts)
	}

	if len(texts) == 0 {
		// Nothing identifying on screen at all
		return fmt.Sprintf("screen_%04.0f", float64(time.Now().Unix()%10000))
	}

	if len(texts) > signatureTextCount {
		texts = texts[:signatureTextCount]
	}
	sig := sanitizeSignature(strings.Join(texts, "_"))
	if r := []rune(sig); len(r) > signatureMaxLen {
		sig = string(r[:signatureMaxLen])
	}
	return sig
}

// ScreenID combines activity and structure signature into the screen key
// used for dedup and knowledge storage.
func ScreenID(activity string, root *protocol.UINode) string {
	return activity + "_" + ScreenSignature(root)
}

func collectTexts(n *protocol.UINode, depth int, out *[]string) {
	if depth > signatureTextDepth {
		return
	}
	if len([]rune(n.Text)) > 1 {
		*out = append(*out, n.Text)
	}
	children := n.Children
	if len(children) > signatureTextChildren {
		children = children[:signatureTextChildren]
	}
	for i := range children {
		collectTexts(&children[i], depth+1, out)
	}
}

func collectClassNames(n *protocol.UINode, depth int, out *[]string) {
	if depth > signatureClassDepth {
		return
	}
	if n.ClassName != "" {
		parts := strings.Split(n.ClassName, ".")
		*out = append(*out, parts[len(parts)-1])
	}
	children := n.Children
	if len(children) > signatureClassChildren {
		children = children[:signatureClassChildren]
	}
	for i := range children {
		collectClassNames(&children[i], depth+1, out)
	}
}

// sanitizeSignature keeps only alphanumerics and underscores so the id is
// safe as a key and filename fragment.
func sanitizeSignature(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || isAlnum(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= 0x4e00 && r <= 0x9fff) // CJK text is common on target screens
}

// screenTypeKeyword pairs text markers with a screen type. Order matters:
// first hit wins.
type screenTypeKeyword struct {
	markers []string
	kind    string
}

var screenTextKeywords = []screenTypeKeyword{
	{[]string{"登录", "login"}, "login_screen"},
	{[]string{"注册", "register", "sign up"}, "register_screen"},
	{[]string{"设置", "setting"}, "settings_screen"},
	{[]string{"搜索", "search"}, "search_screen"},
	{[]string{"详情", "detail", "info"}, "detail_screen"},
	{[]string{"列表", "list"}, "list_screen"},
	{[]string{"播放", "play"}, "player_screen"},
	{[]string{"消息", "message", "聊天"}, "message_screen"},
	{[]string{"个人", "我的", "profile", "my"}, "profile_screen"},
	{[]string{"首页", "home", "main"}, "main_screen"},
}

var screenActivityKeywords = []screenTypeKeyword{
	{[]string{"main"}, "main_screen"},
	{[]string{"login"}, "login_screen"},
	{[]string{"setting"}, "settings_screen"},
	{[]string{"detail"}, "detail_screen"},
	{[]string{"list"}, "list_screen"},
	{[]string{"search"}, "search_screen"},
	{[]string{"player", "play"}, "player_screen"},
}

// IdentifyScreenType classifies a screen from its visible text, falling
// back to the activity name.
func IdentifyScreenType(state *protocol.DeviceState) string {
	if state == nil {
		return "unknown_screen"
	}

	screenText := strings.ToLower(ExtractScreenText(state.UIHierarchy))
	for _, kw := range screenTextKeywords {
		for _, marker := range kw.markers {
			if strings.Contains(screenText, marker) {
				return kw.kind
			}
		}
	}

	if state.CurrentActivity != "" {
		parts := strings.Split(state.CurrentActivity, ".")
		activity := strings.ToLower(parts[len(parts)-1])
		for _, kw := range screenActivityKeywords {
			for _, marker := range kw.markers {
				if strings.Contains(activity, marker) {
					return kw.kind
				}
			}
		}
		return activity + "_screen"
	}

	return "unknown_screen"
}

// ExtractScreenText concatenates all text and content descriptions in the
// tree, in traversal order.
func ExtractScreenText(root *protocol.UINode) string {
	if root == nil {
		return ""
	}
	var texts []string
	var walk func(n *protocol.UINode)
	walk = func(n *protocol.UINode) {
		if n.Text != "" {
			texts = append(texts, n.Text)
		}
		if n.ContentDescription != "" {
			texts = append(texts, n.ContentDescription)
		}
		for i := range n.Children {
			walk(&n.Children[i])
		}
	}
	walk(root)
	return strings.Join(texts, " ")
}
