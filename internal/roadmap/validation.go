package roadmap

import "fmt"

// Validate 检查组织、时间窗口、目标仓库与项目列表的合法性。
func (c *Config) Validate() error {
	if c == nil {
		return newFieldError("config", "不能为空")
	}
	if c.Organization == "" {
		return newFieldError("Organization", "不能为空")
	}

	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if start.After(end) {
		return newFieldError("MilestoneEnd", "不能早于 MilestoneStart")
	}

	if _, err := ParseRepo(c.TargetRepo); err != nil {
		return newFieldError("TargetRepo", err.Error())
	}

	if len(c.Projects) == 0 {
		return newFieldError("Project", "至少需要一个项目")
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for i, p := range c.Projects {
		field := fmt.Sprintf("Project[%d]", i)
		if p.Name == "" {
			return newFieldError(field+".Name", "不能为空")
		}
		if _, ok := seen[p.Name]; ok {
			return newFieldError(field+".Name", fmt.Sprintf("重复的项目名称 %s", p.Name))
		}
		seen[p.Name] = struct{}{}

		if len(p.Repos) == 0 {
			return newFieldError(field+".Repos", "至少需要一个仓库")
		}
		for j, repo := range p.Repos {
			if _, err := ParseRepo(repo); err != nil {
				return newFieldError(fmt.Sprintf("%s.Repos[%d]", field, j), err.Error())
			}
		}
	}
	return nil
}
