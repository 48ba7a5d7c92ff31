package contract

import "context"

// Artifact: 待发布的单个文件。
type Artifact struct {
	Name        string // 相对数据集根目录的名称（正斜杠）
	Path        string // 本地路径
	ContentType string
}

// Publisher: 将构建好的数据集整体发布到远端仓库。
// 返回可供展示的位置（URL/URI）。单个文件失败即返回错误，不做部分成功承诺。
type Publisher interface {
	Publish(ctx context.Context, dataset string, files []Artifact) (string, error)
}
