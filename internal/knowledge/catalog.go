package knowledge

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

// QA 是离线模式下使用的一组问答。
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Content 描述单个智能体可用的提问池与离线问答表。
type Content struct {
	Prompts []string `json:"prompts"`
	Pairs   []QA     `json:"pairs"`
}

// Catalog 按智能体键保存内容，构造后只读。
type Catalog struct {
	entries map[string]Content
}

// NewCatalog 使用给定内容构造目录。
func NewCatalog(entries map[string]Content) *Catalog {
	cloned := make(map[string]Content, len(entries))
	for key, content := range entries {
		cloned[strings.ToLower(key)] = content
	}
	return &Catalog{entries: cloned}
}

// LoadCatalog 从 JSON 文件加载内容，文件中出现的智能体覆盖内置默认值。
func LoadCatalog(path string) (*Catalog, error) {
	base := DefaultCatalog()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析内容文件路径失败: %w", err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取内容文件失败: %w", err)
	}
	defer file.Close()

	var entries map[string]Content
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析内容文件失败: %w", err)
	}
	for key, content := range entries {
		if len(content.Prompts) == 0 && len(content.Pairs) == 0 {
			continue
		}
		base.entries[strings.ToLower(key)] = content
	}
	return base, nil
}

// Prompt 随机返回一条在线模式使用的提问。
func (c *Catalog) Prompt(key string) (string, bool) {
	content, ok := c.lookup(key)
	if !ok || len(content.Prompts) == 0 {
		return "", false
	}
	return content.Prompts[rand.IntN(len(content.Prompts))], true
}

// Pair 随机返回一组离线问答。
func (c *Catalog) Pair(key string) (QA, bool) {
	content, ok := c.lookup(key)
	if !ok || len(content.Pairs) == 0 {
		return QA{}, false
	}
	return content.Pairs[rand.IntN(len(content.Pairs))], true
}

// Keys 返回目录中的智能体键。
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

func (c *Catalog) lookup(key string) (Content, bool) {
	if c == nil {
		return Content{}, false
	}
	content, ok := c.entries[strings.ToLower(key)]
	return content, ok
}
