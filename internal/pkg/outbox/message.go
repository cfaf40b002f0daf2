package outbox

import (
	"time"

	"kimhanh/internal/pkg/notify"
)

// KindCollectionSaved 收藏集保存通知。
const KindCollectionSaved = "collection_saved"

// Message 发件箱中的一条通知。
type Message struct {
	Kind      string                  `json:"kind"`
	Notice    notify.CollectionNotice `json:"notice"`
	Timestamp time.Time               `json:"timestamp"` // 入队时间
	Retry     int                     `json:"retry"`     // 已重试次数
}

func newCollectionMessage(n notify.CollectionNotice) *Message {
	return &Message{
		Kind:      KindCollectionSaved,
		Notice:    n,
		Timestamp: time.Now(),
	}
}
