// Package chunker 将提取出的文本按字符（rune）切分为带重叠的窗口。
package chunker

// Split 将文本按 windowSize 切块，相邻块之间重叠 overlap 个字符。
// 每个窗口的起点为上一窗口起点 + (windowSize - overlap)，最后一个窗口可能更短。
// windowSize <= overlap 时步长不为正，退化为不重叠的切分，保证一定终止。
func Split(text string, windowSize, overlap int) []string {
	if windowSize <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if windowSize <= overlap {
		return simpleSplit(text, windowSize)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := windowSize - overlap
	for i := 0; i < len(runes); i += step {
		end := i + windowSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, windowSize int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+windowSize-1)/windowSize)
	for i := 0; i < len(runes); i += windowSize {
		end := i + windowSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
