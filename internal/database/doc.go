/*
包 database 负责打开 GORM 连接并管理连接池。

# 核心类型

  - Dialector/Open：按 driver 选择 sqlite（glebarez 纯 Go 实现）、postgres 或 mysql。
  - PoolManager：配置 database/sql 连接池，周期性健康检查并上报连接数，
    提供 WithTransaction 与带退避重试的 WithTransactionRetry。
*/
package database
