package history

import (
	"context"

	"ImageGen-Console/sdk/go/imagegen"
)

// HistoryLister 为 imagegen.Client 的列表能力。
type HistoryLister interface {
	ListHistory(ctx context.Context, q imagegen.HistoryQuery) (*imagegen.HistoryPage, error)
}

// RemoteFetch 把后端分页接口适配为 FetchFunc。
func RemoteFetch(client HistoryLister, query imagegen.HistoryQuery) FetchFunc {
	return func(ctx context.Context) (*Page, error) {
		page, err := client.ListHistory(ctx, query)
		if err != nil {
			return nil, err
		}
		return &Page{Data: page.Tasks, TotalCount: page.Total, HasMore: page.HasMore}, nil
	}
}
