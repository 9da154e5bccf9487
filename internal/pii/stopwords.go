package pii

// baseStopwords is the curated set of common Japanese business vocabulary
// excluded from the name heuristics. Kanji and katakana runs that exactly
// match an entry are left unmasked; this suppresses the false positives a
// non-dictionary heuristic would otherwise produce on ordinary domain
// terms. The set is fixed; tuning happens via the additive
// pii.extra_stopwords config, never by removing entries.
var baseStopwords = []string{
	// Event operations vocabulary.
	"接続",
	"確認",
	"参加",
	"登録",
	"予約",
	"申込",
	"受付",
	"開催",
	"会場",
	"案内",
	"日程",
	"時間",
	"場所",
	"定員",
	"資料",
	"配信",
	"中止",
	"延期",
	"変更",
	"質問",
	"回答",
	"連絡",
	"電話",
	"対応",
	"担当",
	"出席",
	"欠席",
	"懇親会",
	"勉強会",
	"説明会",
	"株式会社",

	// Correspondence boilerplate.
	"御中",
	"各位",
	"宛先",
	"件名",
	"内容",
	"詳細",
	"以上",
	"以下",

	// Katakana loanwords common in event management.
	"イベント",
	"セミナー",
	"ウェビナー",
	"カンファレンス",
	"ミーティング",
	"ワークショップ",
	"オンライン",
	"スケジュール",
	"キャンセル",
	"チケット",
	"リマインド",
	"アンケート",
	"フォーム",
	"メール",
	"システム",
	"サービス",
	"サポート",
	"アカウント",
	"パスワード",
	"ログイン",
}
