package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	xerrors "AgentFleet/internal/errors"
)

// Account 是一个账户身份及其绑定的代理。Index 从 1 开始。
type Account struct {
	Index    int
	Identity string
	Proxy    string
}

// LoadList 读取 JSON 字符串数组，去除空白项。optional 为 true 时文件缺失返回空列表。
func LoadList(path string, optional bool) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("读取 %s 失败", path))
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("%s 必须是字符串数组", path))
	}
	out := items[:0]
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// Pair 按位置把代理分配给账户。代理列表非空时数量必须与账户一致，身份不得重复。
func Pair(identities, proxies []string) ([]Account, error) {
	if len(identities) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "没有配置任何账户")
	}
	if len(proxies) > 0 && len(proxies) != len(identities) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("代理数量 (%d) 与账户数量 (%d) 不一致", len(proxies), len(identities)))
	}
	seen := make(map[string]int, len(identities))
	accounts := make([]Account, len(identities))
	for i, identity := range identities {
		if first, ok := seen[identity]; ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("账户 %d 与账户 %d 的身份重复", i+1, first))
		}
		seen[identity] = i + 1
		accounts[i] = Account{Index: i + 1, Identity: identity}
		if len(proxies) > 0 {
			accounts[i].Proxy = proxies[i]
		}
	}
	return accounts, nil
}
