// Package api 暴露平台的 REST 接口：只读查询、指令构建、签名交易提交与预言机上报入口。
package api
