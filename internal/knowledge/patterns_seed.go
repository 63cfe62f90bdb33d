package knowledge

import "appscout/internal/protocol"

// SeedDefaultPatterns loads the stock command patterns every server starts
// with: play music, open an app, watch a video, web search. Each pattern
// extracts its search term behind its own verbs, so "听X" never lands on
// the video pattern. Learned patterns accumulate on top of these.
func SeedDefaultPatterns(ps *PatternSet) {
	ps.Learn("听某人的歌", []Step{
		{Action: protocol.ActionLaunchApp, Selector: map[string]any{"packageName": "com.netease.cloudmusic"}},
		{Action: protocol.ActionClick, Selector: map[string]any{"resourceId": "search_button"}},
		{Action: protocol.ActionTypeText, Selector: map[string]any{"className": "android.widget.EditText"}, Text: "{{search_term}}"},
		{Action: protocol.ActionClick, Selector: map[string]any{"text": "搜索"}},
		{Action: protocol.ActionClick, Selector: map[string]any{"text": "{{search_term}}"}},
		{Action: protocol.ActionClick, Selector: map[string]any{"text": "播放"}},
	}, map[string]string{"search_term": `(?:听|播放)\s*([^\s,，。.]+)`})

	ps.Learn("打开某个应用", []Step{
		{Action: protocol.ActionLaunchApp, Selector: map[string]any{"packageName": "{{app_name}}"}},
	}, map[string]string{"app_name": `打开\s*([^\s,，。.]+)`})

	ps.Learn("看视频", []Step{
		{Action: protocol.ActionLaunchApp, Selector: map[string]any{"packageName": "tv.danmaku.bili"}},
		{Action: protocol.ActionClick, Selector: map[string]any{"resourceId": "search_button"}},
		{Action: protocol.ActionTypeText, Selector: map[string]any{"className": "android.widget.EditText"}, Text: "{{search_term}}"},
		{Action: protocol.ActionClick, Selector: map[string]any{"text": "搜索"}},
		{Action: protocol.ActionClick, Selector: map[string]any{"className": "android.widget.ImageView"}},
	}, map[string]string{"search_term": `(?:看|观看)\s*([^\s,，。.]+)`})

	ps.Learn("搜索信息", []Step{
		{Action: protocol.ActionLaunchApp, Selector: map[string]any{"packageName": "com.baidu.searchbox"}},
		{Action: protocol.ActionClick, Selector: map[string]any{"resourceId": "search_button"}},
		{Action: protocol.ActionTypeText, Selector: map[string]any{"className": "android.widget.EditText"}, Text: "{{search_term}}"},
		{Action: protocol.ActionClick, Selector: map[string]any{"text": "搜索"}},
	}, map[string]string{"search_term": `(?:搜索|查找)\s*([^\s,，。.]+)`})
}
