/*
Package fuse mounts a namedfs filesystem into the local directory tree with
github.com/hanwen/go-fuse/v2.

Every kernel request is translated into a call on a Target, normally the
capability-checked *vfs.FileSystem returned by the provider. Nodes carry no
path of their own; the path is recomputed from the inode tree on each request
so renames stay consistent.

# Operations

	lookup, getattr        Target.Stat
	readdir                Target.List
	open (read)            Target.OpenRandomAccess, served with ReadAt
	open (write), create   buffered in memory, uploaded with Target.Create on flush
	mkdir                  Target.CreateFolder
	unlink, rmdir          Target.Delete (rmdir refuses non-empty folders)
	rename                 Target.Rename
	setattr                mtime through Target.SetLastModified, size by rewrite

namedfs error codes map onto errno: FILE_NOT_FOUND is ENOENT, FILE_EXISTS is
EEXIST, CAPABILITY_UNSUPPORTED is ENOTSUP. Anything unexpected is logged and
returned as EIO.

# Usage

	fsys := fuse.NewFileSystem(target, fuse.Config{UID: uid, GID: gid}, logger)
	mm := fuse.NewMountManager(fsys, "/mnt/prod", fuse.DefaultMountOptions(), logger)
	if err := mm.Mount(ctx); err != nil {
		return err
	}
	mm.Wait()

Writes hold the whole file in memory until the handle is flushed. This suits
the configuration and staging files namedfs is used for; large uploads should
go through the CLI put command instead.
*/
package fuse
