package contract

// Detector: 语言识别能力。返回小写 ISO 639-1 代码；无法判定时 ok=false。
// 实现必须可被多个 goroutine 并发调用。
type Detector interface {
	Detect(text string) (lang string, ok bool)
}
