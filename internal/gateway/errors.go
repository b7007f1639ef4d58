package gateway

import (
	"bytes"
	"encoding/json"
)

// FlattenErrorBody はバックエンドのエラーボディからメッセージを出現順に取り出す。
//
// フィールド名→メッセージ配列のオブジェクト、{"detail": "..."}、文字列配列、
// およびそれらの入れ子を扱う。オブジェクトのキー順はボディ中の順序を保つ。
// JSONとして読めないボディ（HTMLのエラーページ等）には空を返す。
func FlattenErrorBody(body []byte) []string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil
	}
	var out []string
	collectMessages(trimmed, &out)
	return out
}

func collectMessages(raw []byte, out *[]string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}

	switch raw[0] {
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return
		}
		for dec.More() {
			// キー
			if _, err := dec.Token(); err != nil {
				return
			}
			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return
			}
			collectMessages(value, out)
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, item := range items {
			collectMessages(item, out)
		}
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			*out = append(*out, s)
		}
	case 'n':
		// null
	default:
		// 数値・真偽値はそのまま文字列として扱う
		*out = append(*out, string(raw))
	}
}
