package roadmap

import (
	"fmt"
	"strings"
	"time"
)

// Config 是路线图生成器读取的完整配置，加载后只读。
type Config struct {
	Organization   string    `mapstructure:"Organization"`
	MilestoneStart string    `mapstructure:"MilestoneStart"`
	MilestoneEnd   string    `mapstructure:"MilestoneEnd"`
	TargetRepo     string    `mapstructure:"TargetRepo"`
	Projects       []Project `mapstructure:"Project"`
}

// Project 描述一个项目：名称、组成仓库（有序）以及拼接进报告的文本片段。
type Project struct {
	Name      string            `mapstructure:"Name"`
	Repos     []string          `mapstructure:"Repos"`
	Fragments map[string]string `mapstructure:"Fragments"`
}

// Repo 是 owner/repo 形式的仓库标识。
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo 解析 owner/repo，两段都不能为空。
func ParseRepo(raw string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repo %q: expected owner/repo", raw)
	}
	return Repo{Owner: owner, Name: name}, nil
}

// Window 返回里程碑时间窗口的起止时间（均为闭区间端点）。
func (c *Config) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, c.MilestoneStart)
	if err != nil {
		return time.Time{}, time.Time{}, newFieldError("MilestoneStart", "必须为 RFC3339 时间")
	}
	end, err := time.Parse(time.RFC3339, c.MilestoneEnd)
	if err != nil {
		return time.Time{}, time.Time{}, newFieldError("MilestoneEnd", "必须为 RFC3339 时间")
	}
	return start, end, nil
}

// Contains 判断 t 是否落在里程碑窗口内，两端都包含。
func (c *Config) Contains(t time.Time) bool {
	start, end, err := c.Window()
	if err != nil {
		return false
	}
	return !t.Before(start) && !t.After(end)
}

// Target 返回解析后的报告目标仓库。
func (c *Config) Target() (Repo, error) {
	return ParseRepo(c.TargetRepo)
}

// Project 按名称查找项目。
func (c *Config) Project(name string) (Project, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}

// Fragment 返回命名文本片段，例如 "status"。
func (p Project) Fragment(name string) (string, bool) {
	text, ok := p.Fragments[strings.ToLower(name)]
	return text, ok
}
