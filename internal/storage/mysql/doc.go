// Package mysql persists program accounts in MySQL. Write transactions lock
// the rows they read with SELECT ... FOR UPDATE and are retried when InnoDB
// picks them as a deadlock victim.
package mysql
