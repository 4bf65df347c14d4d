package tokenizer

import "strings"

// Tokenizer 统一的 token 计数接口
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包括每条消息的角色与分隔符开销
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器名称
	Name() string
}

// Message 是 tokenizer 使用的轻量消息结构，避免与 llm 包循环依赖
type Message struct {
	Role    string
	Content string
}

// ForModel 为模型选择分词器：OpenAI 系列使用 tiktoken（编码数据不可用时回退到估算器），
// 其余模型使用估算器。
func ForModel(model string) Tokenizer {
	if isOpenAIModel(model) {
		tk, _ := NewTiktokenTokenizer(model)
		return &fallbackTokenizer{primary: tk, fallback: NewEstimatorTokenizer()}
	}
	return NewEstimatorTokenizer()
}

func isOpenAIModel(model string) bool {
	for _, p := range []string{"gpt-", "o1", "o3", "o4", "chatgpt-"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// TrimToBudget 保留最近的消息，使总 token 数不超过 budget。
// 消息按时间升序传入；至少保留最后一条。budget <= 0 表示不裁剪。
func TrimToBudget(t Tokenizer, messages []Message, budget int) ([]Message, error) {
	if budget <= 0 || len(messages) == 0 {
		return messages, nil
	}

	total := 3 // 会话结束开销
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n, err := t.CountMessages(messages[i : i+1])
		if err != nil {
			return nil, err
		}
		// CountMessages 对单条消息也会计入 3 个结束开销
		n -= 3
		if total+n > budget && start < len(messages) {
			break
		}
		total += n
		start = i
	}
	return messages[start:], nil
}

// fallbackTokenizer 在主分词器失败时使用备用分词器
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	if n, err := f.primary.CountTokens(text); err == nil {
		return n, nil
	}
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []Message) (int, error) {
	if n, err := f.primary.CountMessages(messages); err == nil {
		return n, nil
	}
	return f.fallback.CountMessages(messages)
}

func (f *fallbackTokenizer) Name() string {
	return f.primary.Name() + "|" + f.fallback.Name()
}
